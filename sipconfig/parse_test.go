package sipconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseJSONDocument(t *testing.T) {
	cfg, err := Parse([]byte(`{"extensions": [], "buttons": []}`))
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.HeartbeatIntervalMs)
}

func TestParseYAMLDocument(t *testing.T) {
	cfg, err := Parse([]byte(`
extensions:
  - number: "1001"
    user: user1
    password: pass1
    domain: example.com
buttons:
  - name: Office
    number: "1001"
heartbeatIntervalMs: 60000
ice:
  servers: [stun:stun.example.com]
`))
	require.NoError(t, err)
	assert.Equal(t, 60000, cfg.HeartbeatIntervalMs)
	assert.Equal(t, "user1", cfg.Extensions[0].User)
	assert.Contains(t, cfg.Extra, "ice")
}

func TestParseRejectsNonObjects(t *testing.T) {
	for _, doc := range []string{"", "null", `"string"`, "123", "[]", "{not json"} {
		_, err := Parse([]byte(doc))
		require.Error(t, err, doc)
		assert.Equal(t, TypeKind, KindOf(err), doc)
	}
}

func TestParseStringExtensionsRejected(t *testing.T) {
	_, err := Parse([]byte(`{"extensions": "not-an-array", "buttons": []}`))
	require.Error(t, err)
	assert.Contains(t, Messages(err), "extensions must be an array")
}

func TestParseFileUnwrapsOptionKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sip_config:
  extensions: []
  buttons: []
  heartbeatIntervalMs: 5000
`), 0o644))
	cfg, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.HeartbeatIntervalMs)

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Zero(t, KindOf(err))
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := Validate(map[string]any{
		"extensions": []any{},
		"buttons":    []any{map[string]any{"name": "Door", "number": "9"}},
		"theme":      "dark",
	})
	require.NoError(t, err)

	js, err := json.Marshal(cfg)
	require.NoError(t, err)
	fromJSON, err := Parse(js)
	require.NoError(t, err)
	assert.Equal(t, cfg, fromJSON)

	ym, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	fromYAML, err := Parse(ym)
	require.NoError(t, err)
	assert.Equal(t, cfg, fromYAML)
}
