package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sip-core/flow"
	"sip-core/infrastructure/monitor"
	"sip-core/internal/store"
	"sip-core/sipconfig"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	store   *store.Store
	hub     *Hub
	monitor *monitor.Monitor
	server  *Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st, err := store.Open("")
	require.NoError(t, err)
	mon := monitor.New(monitor.DefaultConfig())
	hub := NewHub(func() (sipconfig.SipConfiguration, error) { return st.SipConfig(flow.Domain) }, nil, mon)
	st.Subscribe(hub.OnStoreEvent)
	t.Cleanup(hub.Close)
	return &fixture{store: st, hub: hub, monitor: mon, server: NewServer(st, hub, nil, mon, opts)}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

const validConfig = `{
  "extensions": [{"number": "1001", "user": "user1", "password": "pass1", "domain": "example.com"}],
  "buttons": [{"name": "Office", "number": "1001"}],
  "heartbeatIntervalMs": 15000
}`

func TestConfigFlowOverHTTP(t *testing.T) {
	f := newFixture(t, Options{})

	rec, body := f.do(t, http.MethodGet, "/api/sip_core/flow/user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "form", body["type"])
	assert.Equal(t, "user", body["step_id"])
	assert.NotEmpty(t, body["flow_id"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, body = f.do(t, http.MethodPost, "/api/sip_core/flow/user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "create_entry", body["type"])
	assert.Equal(t, flow.Title, body["title"])

	rec, body = f.do(t, http.MethodGet, "/api/sip_core/flow/user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abort", body["type"])
	assert.Equal(t, flow.ReasonAlreadyConfigured, body["reason"])
}

func TestOptionsFlowOverHTTP(t *testing.T) {
	f := newFixture(t, Options{})

	_, body := f.do(t, http.MethodGet, "/api/sip_core/options", "")
	assert.Equal(t, "abort", body["type"])

	f.do(t, http.MethodPost, "/api/sip_core/flow/user", "{}")

	_, body = f.do(t, http.MethodGet, "/api/sip_core/options", "")
	assert.Equal(t, "form", body["type"])
	assert.Equal(t, "init", body["step_id"])

	_, body = f.do(t, http.MethodPost, "/api/sip_core/options", `{"sip_config": {"extensions": "nope", "buttons": []}}`)
	assert.Equal(t, "form", body["type"])
	assert.Equal(t, map[string]any{"base": "invalid_config"}, body["errors"])
	placeholders := body["description_placeholders"].(map[string]any)
	assert.Contains(t, placeholders["error_detail"], "extensions must be an array")

	rec, body := f.do(t, http.MethodPost, "/api/sip_core/options", `{"sip_config": `+validConfig+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "create_entry", body["type"])

	cfg, err := f.store.SipConfig(flow.Domain)
	require.NoError(t, err)
	assert.Equal(t, 15000, cfg.HeartbeatIntervalMs)
	assert.Len(t, cfg.Extensions, 1)
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t, Options{})
	for _, path := range []string{"/api/sip_core/flow/user", "/api/sip_core/options", "/api/sip_core/validate"} {
		rec, body := f.do(t, http.MethodPost, path, `{"sip_config": `)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "invalid_config", body["error"], path)
	}

	rec, _ := f.do(t, http.MethodPost, "/api/sip_core/options", `[1, 2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	rec, body := f.do(t, http.MethodPost, "/api/sip_core/validate", validConfig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])
	cfg := body["config"].(map[string]any)
	assert.Equal(t, float64(15000), cfg["heartbeatIntervalMs"])

	rec, body = f.do(t, http.MethodPost, "/api/sip_core/validate", `{
  "extensions": [{"number": "bad number", "user": "u", "password": "p", "domain": "d"}],
  "buttons": [],
  "heartbeatIntervalMs": -5
}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, body["valid"])
	problems := body["errors"].([]any)
	require.Len(t, problems, 2)
	assert.Equal(t, "pattern", problems[0].(map[string]any)["kind"])
	assert.Equal(t, "range", problems[1].(map[string]any)["kind"])

	rec, body = f.do(t, http.MethodPost, "/api/sip_core/validate", `"just a string"`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "type", body["errors"].([]any)[0].(map[string]any)["kind"])

	expected := `
# HELP sip_core_config_validations_total sip_config 校验次数（按来源与结果）
# TYPE sip_core_config_validations_total counter
sip_core_config_validations_total{result="accepted",source="api"} 1
sip_core_config_validations_total{result="rejected",source="api"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(f.monitor.Registry(), strings.NewReader(expected), "sip_core_config_validations_total"))
}

func TestValidateWarnings(t *testing.T) {
	f := newFixture(t, Options{})
	_, body := f.do(t, http.MethodPost, "/api/sip_core/validate", `{
  "extensions": [],
  "buttons": [{"name": "Ghost", "number": "9999"}]
}`)
	assert.Equal(t, true, body["valid"])
	assert.Len(t, body["warnings"], 1)
}

func TestCurrentConfig(t *testing.T) {
	f := newFixture(t, Options{})

	rec, body := f.do(t, http.MethodGet, "/api/sip_core/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(sipconfig.DefaultHeartbeatIntervalMs), body["heartbeatIntervalMs"])
	assert.Equal(t, []any{}, body["extensions"])
}

func TestAssetAndHealth(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, flow.JSFilename), []byte("console.log('sip')"), 0o644))

	f := newFixture(t, Options{StaticDir: dir})
	rec, _ := f.do(t, http.MethodGet, flow.JSURLPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console.log")

	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sip_core_config_ws_clients")

	missing := newFixture(t, Options{StaticDir: t.TempDir()})
	rec, _ = missing.do(t, http.MethodGet, flow.JSURLPath, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Options{CORSOrigin: "http://panel.local"})
	rec, _ := f.do(t, http.MethodOptions, "/api/sip_core/options", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://panel.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Type   string         `json:"type"`
		Config map[string]any `json:"config"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	cfg, err := sipconfig.Validate(msg.Config)
	require.NoError(t, err)
	return Message{Type: msg.Type, Config: cfg}
}

func TestWebsocketPush(t *testing.T) {
	f := newFixture(t, Options{})
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sip_core/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeConfig, msg.Type)
	assert.Equal(t, sipconfig.DefaultHeartbeatIntervalMs, msg.Config.HeartbeatIntervalMs)

	f.do(t, http.MethodPost, "/api/sip_core/flow/user", "{}")
	f.do(t, http.MethodPost, "/api/sip_core/options", `{"sip_config": `+validConfig+`}`)

	msg = readMessage(t, conn)
	assert.Equal(t, 15000, msg.Config.HeartbeatIntervalMs)
	assert.Equal(t, "sip:user1@example.com", msg.Config.Extensions[0].AOR())
	assert.Equal(t, 1, f.hub.Clients())
}
