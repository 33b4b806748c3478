package flow

import (
	"context"
	"fmt"
	"strings"

	"sip-core/infrastructure/logger"
	"sip-core/sipconfig"
)

// ReasonNotConfigured aborts the options flow when no entry exists yet.
const ReasonNotConfigured = "not_configured"

// OptionsFlow edits the sip_config option of the existing entry.
type OptionsFlow struct {
	host    Host
	entries EntryStore
	log     *logger.Logger
	metrics Recorder
}

// NewOptionsFlow wires an options flow. log and metrics may be nil.
func NewOptionsFlow(host Host, entries EntryStore, log *logger.Logger, metrics Recorder) *OptionsFlow {
	if log == nil {
		log = logger.Nop()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &OptionsFlow{host: host, entries: entries, log: log, metrics: metrics}
}

// Step runs the init step.
func (f *OptionsFlow) Step(ctx context.Context, input map[string]any) (Result, error) {
	return f.StepInit(ctx, input)
}

// StepInit shows the sip_config form when input is nil. Otherwise the
// submitted sip_config is validated; a rejected one redisplays the form with
// the invalid_config error, an accepted one replaces the entry options.
func (f *OptionsFlow) StepInit(ctx context.Context, input map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	entry, ok := f.entries.Lookup(Domain)
	if !ok {
		f.record(string(ResultAbort), map[string]interface{}{"reason": ReasonNotConfigured})
		return f.host.Abort(ReasonNotConfigured), nil
	}

	suggested, ok := entry.Options[sipconfig.OptionKey]
	if !ok {
		suggested = sipconfig.Default().ToMap()
	}
	schema := Schema{
		{Key: sipconfig.OptionKey, Required: true, Selector: SelectorObject, SuggestedValue: suggested},
	}

	if input == nil {
		f.record(string(ResultForm), nil)
		return f.host.ShowForm(StepInit, schema, nil, nil), nil
	}

	raw, present := input[sipconfig.OptionKey]
	var (
		cfg sipconfig.SipConfiguration
		err error
	)
	if !present {
		err = fmt.Errorf("%s field is required", sipconfig.OptionKey)
	} else {
		cfg, err = sipconfig.Validate(raw)
	}
	if err != nil {
		problems := sipconfig.Messages(err)
		if len(problems) == 0 {
			problems = []string{err.Error()}
		}
		f.metrics.RecordValidation("options", kindsOf(err))
		f.log.LogValidation("options", problems, nil)
		f.record("invalid", map[string]interface{}{"problems": len(problems)})
		return f.host.ShowForm(StepInit, schema,
			map[string]string{"base": sipconfig.ErrorCode},
			map[string]string{"error_detail": strings.Join(problems, "; ")},
		), nil
	}

	warnings := sipconfig.Lint(cfg)
	f.metrics.RecordValidation("options", nil)
	f.log.LogValidation("options", nil, warnings)

	options := make(map[string]any, len(entry.Options)+1)
	for k, v := range entry.Options {
		options[k] = v
	}
	options[sipconfig.OptionKey] = cfg.ToMap()
	if _, err := f.entries.UpdateOptions(entry.ID, options); err != nil {
		f.log.LogError(err, map[string]interface{}{"flow": "options", "step": StepInit})
		return Result{}, fmt.Errorf("update options: %w", err)
	}
	f.record(string(ResultCreateEntry), map[string]interface{}{
		"entry_id":   entry.ID,
		"extensions": len(cfg.Extensions),
		"buttons":    len(cfg.Buttons),
	})
	return f.host.CreateEntry(Title, options), nil
}

func (f *OptionsFlow) record(outcome string, fields map[string]interface{}) {
	f.metrics.RecordFlowStep("options", StepInit, outcome)
	f.log.LogFlow("options", StepInit, outcome, fields)
}

func kindsOf(err error) []string {
	errs := sipconfig.Errors(err)
	if len(errs) == 0 {
		return []string{sipconfig.SchemaKind.String()}
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Kind.String())
	}
	return out
}
