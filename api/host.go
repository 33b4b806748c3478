// Package api is the HTTP configuration host: it runs the SIP Core flows
// behind gin routes and pushes the active sip_config to websocket clients.
package api

import (
	"github.com/google/uuid"

	"sip-core/flow"
)

// httpHost 为每次请求生成 flow_id，其余与 flow.ResultHost 相同
type httpHost struct {
	flow.ResultHost
	flowID string
}

func newHTTPHost() httpHost {
	return httpHost{flowID: uuid.NewString()}
}

func (h httpHost) ShowForm(step string, schema flow.Schema, errors map[string]string, placeholders map[string]string) flow.Result {
	r := h.ResultHost.ShowForm(step, schema, errors, placeholders)
	r.FlowID = h.flowID
	return r
}

func (h httpHost) CreateEntry(title string, data map[string]any) flow.Result {
	r := h.ResultHost.CreateEntry(title, data)
	r.FlowID = h.flowID
	return r
}

func (h httpHost) Abort(reason string) flow.Result {
	r := h.ResultHost.Abort(reason)
	r.FlowID = h.flowID
	return r
}
