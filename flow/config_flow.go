package flow

import (
	"context"
	"errors"
	"fmt"

	"sip-core/infrastructure/logger"
	"sip-core/internal/store"
	"sip-core/sipconfig"
)

// ConfigFlow creates the single sip_core config entry.
type ConfigFlow struct {
	host    Host
	entries EntryStore
	log     *logger.Logger
	metrics Recorder
}

// NewConfigFlow wires a config flow. log and metrics may be nil.
func NewConfigFlow(host Host, entries EntryStore, log *logger.Logger, metrics Recorder) *ConfigFlow {
	if log == nil {
		log = logger.Nop()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &ConfigFlow{host: host, entries: entries, log: log, metrics: metrics}
}

// Step runs the user step.
func (f *ConfigFlow) Step(ctx context.Context, input map[string]any) (Result, error) {
	return f.StepUser(ctx, input)
}

// StepUser shows the setup form when input is nil and otherwise creates the
// entry. Only one entry per domain may exist.
func (f *ConfigFlow) StepUser(ctx context.Context, input map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if _, exists := f.entries.Lookup(Domain); exists {
		return f.abort(ReasonAlreadyConfigured), nil
	}

	if input == nil {
		f.record("form", nil)
		return f.host.ShowForm(StepUser, Schema{
			{Key: "config_url", Selector: SelectorText, SuggestedValue: ""},
		}, nil, map[string]string{
			"config_info": "SIP Core configuration can be managed through options.",
		}), nil
	}

	// 空输入也允许创建，选项使用默认配置
	data := map[string]any{}
	for k, v := range input {
		data[k] = v
	}
	options := map[string]any{sipconfig.OptionKey: sipconfig.Default().ToMap()}

	entry, err := f.entries.Create(Domain, Title, Version, data, options)
	if errors.Is(err, store.ErrAlreadyConfigured) {
		return f.abort(ReasonAlreadyConfigured), nil
	}
	if err != nil {
		f.log.LogError(err, map[string]interface{}{"flow": "config", "step": StepUser})
		return Result{}, fmt.Errorf("create entry: %w", err)
	}
	f.record(string(ResultCreateEntry), map[string]interface{}{"entry_id": entry.ID})
	return f.host.CreateEntry(Title, data), nil
}

func (f *ConfigFlow) abort(reason string) Result {
	f.record(string(ResultAbort), map[string]interface{}{"reason": reason})
	return f.host.Abort(reason)
}

func (f *ConfigFlow) record(outcome string, fields map[string]interface{}) {
	f.metrics.RecordFlowStep("config", StepUser, outcome)
	f.log.LogFlow("config", StepUser, outcome, fields)
}
