package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sip-core/internal/store"
	"sip-core/sipconfig"
)

type fakeRecorder struct {
	steps       []string
	validations [][]string
}

func (r *fakeRecorder) RecordFlowStep(flow, step, outcome string) {
	r.steps = append(r.steps, flow+"/"+step+"/"+outcome)
}

func (r *fakeRecorder) RecordValidation(_ string, kinds []string) {
	r.validations = append(r.validations, kinds)
}

type failingStore struct {
	EntryStore
}

func (failingStore) UpdateOptions(string, map[string]interface{}) (store.Entry, error) {
	return store.Entry{}, errors.New("disk full")
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("")
	require.NoError(t, err)
	return st
}

func configured(t *testing.T) *store.Store {
	t.Helper()
	st := newStore(t)
	res, err := NewConfigFlow(ResultHost{}, st, nil, nil).StepUser(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, ResultCreateEntry, res.Type)
	return st
}

func TestConfigFlowShowsForm(t *testing.T) {
	rec := &fakeRecorder{}
	f := NewConfigFlow(ResultHost{}, newStore(t), nil, rec)

	res, err := f.StepUser(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultForm, res.Type)
	assert.Equal(t, StepUser, res.StepID)
	require.Len(t, res.Schema, 1)
	assert.Equal(t, "config_url", res.Schema[0].Key)
	assert.False(t, res.Schema[0].Required)
	assert.Contains(t, res.Placeholders, "config_info")
	assert.Equal(t, []string{"config/user/form"}, rec.steps)
}

func TestConfigFlowCreatesEntry(t *testing.T) {
	st := newStore(t)
	f := NewConfigFlow(ResultHost{}, st, nil, nil)

	res, err := f.StepUser(context.Background(), map[string]any{"config_url": "http://pbx.local/sip.json"})
	require.NoError(t, err)
	assert.Equal(t, ResultCreateEntry, res.Type)
	assert.Equal(t, Title, res.Title)
	assert.Equal(t, "http://pbx.local/sip.json", res.Data["config_url"])

	entry, ok := st.Lookup(Domain)
	require.True(t, ok)
	cfg, err := st.SipConfig(Domain)
	require.NoError(t, err)
	assert.Equal(t, sipconfig.Default(), cfg)
	assert.Equal(t, Version, entry.Version)
}

func TestConfigFlowEmptyInputCreatesEmptyEntry(t *testing.T) {
	res, err := NewConfigFlow(ResultHost{}, newStore(t), nil, nil).StepUser(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, ResultCreateEntry, res.Type)
	assert.Empty(t, res.Data)
}

func TestConfigFlowAbortsWhenConfigured(t *testing.T) {
	st := configured(t)
	f := NewConfigFlow(ResultHost{}, st, nil, nil)
	for _, in := range []map[string]any{nil, {"config_url": "x"}} {
		res, err := f.StepUser(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, ResultAbort, res.Type)
		assert.Equal(t, ReasonAlreadyConfigured, res.Reason)
	}
}

func TestConfigFlowHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewConfigFlow(ResultHost{}, newStore(t), nil, nil).Step(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptionsFlowAbortsWithoutEntry(t *testing.T) {
	res, err := NewOptionsFlow(ResultHost{}, newStore(t), nil, nil).StepInit(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultAbort, res.Type)
	assert.Equal(t, ReasonNotConfigured, res.Reason)
}

func TestOptionsFlowShowsFormWithSuggestedValue(t *testing.T) {
	st := configured(t)
	res, err := NewOptionsFlow(ResultHost{}, st, nil, nil).StepInit(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultForm, res.Type)
	assert.Equal(t, StepInit, res.StepID)
	require.Len(t, res.Schema, 1)
	field := res.Schema[0]
	assert.Equal(t, sipconfig.OptionKey, field.Key)
	assert.True(t, field.Required)
	assert.Equal(t, SelectorObject, field.Selector)
	assert.Equal(t, sipconfig.Default().ToMap(), field.SuggestedValue)
	assert.Empty(t, res.Errors)
}

func TestOptionsFlowRejectsInvalidConfig(t *testing.T) {
	cases := map[string]map[string]any{
		"missing key":    {},
		"not an object":  {"sip_config": "string"},
		"none":           {"sip_config": nil},
		"missing button": {"sip_config": map[string]any{"extensions": []any{}}},
		"bad number": {"sip_config": map[string]any{
			"extensions": []any{map[string]any{"number": "ext#1", "user": "u", "password": "p", "domain": "d"}},
			"buttons":    []any{},
		}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			st := configured(t)
			rec := &fakeRecorder{}
			res, err := NewOptionsFlow(ResultHost{}, st, nil, rec).StepInit(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, ResultForm, res.Type)
			assert.Equal(t, map[string]string{"base": "invalid_config"}, res.Errors)
			assert.NotEmpty(t, res.Placeholders["error_detail"])
			require.Len(t, rec.validations, 1)
			assert.NotEmpty(t, rec.validations[0])

			cfg, err := st.SipConfig(Domain)
			require.NoError(t, err)
			assert.Equal(t, sipconfig.Default(), cfg, "rejected input must not be persisted")
		})
	}
}

func TestOptionsFlowAcceptsAndPersists(t *testing.T) {
	st := configured(t)
	rec := &fakeRecorder{}
	in := map[string]any{"sip_config": map[string]any{
		"extensions": []any{
			map[string]any{"number": "1001", "user": "user1", "password": "pass1", "domain": "example.com"},
		},
		"buttons": []any{map[string]any{"name": "Office", "number": "1001"}},
	}}

	res, err := NewOptionsFlow(ResultHost{}, st, nil, rec).StepInit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ResultCreateEntry, res.Type)
	persisted := res.Data[sipconfig.OptionKey].(map[string]any)
	assert.Equal(t, 30000, persisted["heartbeatIntervalMs"])

	cfg, err := st.SipConfig(Domain)
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.HeartbeatIntervalMs)
	assert.Equal(t, "user1", cfg.Extensions[0].User)
	assert.Equal(t, []string{"options/init/create_entry"}, rec.steps)
	assert.Equal(t, [][]string{nil}, rec.validations)

	// input is left untouched
	_, has := in["sip_config"].(map[string]any)["heartbeatIntervalMs"]
	assert.False(t, has)

	// the stored config becomes the next suggestion
	res, err = NewOptionsFlow(ResultHost{}, st, nil, nil).StepInit(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, persisted, res.Schema[0].SuggestedValue)
}

func TestOptionsFlowStoreFailure(t *testing.T) {
	st := configured(t)
	f := NewOptionsFlow(ResultHost{}, failingStore{EntryStore: st}, nil, nil)
	_, err := f.StepInit(context.Background(), map[string]any{
		"sip_config": map[string]any{"extensions": []any{}, "buttons": []any{}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
