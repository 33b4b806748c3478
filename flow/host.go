// Package flow implements the SIP Core config flow (initial setup) and
// options flow (editing sip_config) against an abstract configuration host.
package flow

import (
	"context"

	"sip-core/internal/store"
)

// Integration constants.
const (
	Domain            = "sip_core"
	Title             = "SIP Core"
	Version           = 1
	JSFilename        = "sip_core.js"
	JSURLPath         = "/sip_core_files/" + JSFilename
	AsteriskAddonSlug = "3e533915_asterisk"

	StepUser = "user"
	StepInit = "init"

	ReasonAlreadyConfigured = "already_configured"
)

// ResultType tells the host what to do with a step result.
type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

// Selector names the input widget of a form field.
type Selector string

const (
	SelectorText   Selector = "text"
	SelectorObject Selector = "object"
)

// Field is one input of a form schema.
type Field struct {
	Key            string   `json:"name"`
	Required       bool     `json:"required"`
	Selector       Selector `json:"selector"`
	SuggestedValue any      `json:"suggested_value,omitempty"`
}

// Schema is an ordered list of form fields.
type Schema []Field

// Result is what a flow step hands back to the host.
type Result struct {
	Type         ResultType        `json:"type"`
	FlowID       string            `json:"flow_id,omitempty"`
	Handler      string            `json:"handler"`
	StepID       string            `json:"step_id,omitempty"`
	Schema       Schema            `json:"data_schema,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	Placeholders map[string]string `json:"description_placeholders,omitempty"`
	Title        string            `json:"title,omitempty"`
	Data         map[string]any    `json:"data,omitempty"`
	Reason       string            `json:"reason,omitempty"`
}

// Host renders step results. Flows never construct Results directly.
type Host interface {
	ShowForm(step string, schema Schema, errors map[string]string, placeholders map[string]string) Result
	CreateEntry(title string, data map[string]any) Result
	Abort(reason string) Result
}

// EntryStore is the part of the entry store the flows need.
type EntryStore interface {
	Lookup(domain string) (store.Entry, bool)
	Create(domain, title string, version int, data, options map[string]interface{}) (store.Entry, error)
	UpdateOptions(id string, options map[string]interface{}) (store.Entry, error)
}

// Recorder receives flow and validation metrics.
type Recorder interface {
	RecordFlowStep(flow, step, outcome string)
	RecordValidation(source string, kinds []string)
}

// Stepper is implemented by both flows.
type Stepper interface {
	Step(ctx context.Context, input map[string]any) (Result, error)
}

// ResultHost is a Host that returns plain Results.
type ResultHost struct{}

func (ResultHost) ShowForm(step string, schema Schema, errors map[string]string, placeholders map[string]string) Result {
	return Result{
		Type:         ResultForm,
		Handler:      Domain,
		StepID:       step,
		Schema:       schema,
		Errors:       errors,
		Placeholders: placeholders,
	}
}

func (ResultHost) CreateEntry(title string, data map[string]any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{Type: ResultCreateEntry, Handler: Domain, Title: title, Data: data}
}

func (ResultHost) Abort(reason string) Result {
	return Result{Type: ResultAbort, Handler: Domain, Reason: reason}
}

type nopRecorder struct{}

func (nopRecorder) RecordFlowStep(string, string, string) {}
func (nopRecorder) RecordValidation(string, []string)     {}
