// Package sipconfig validates and normalizes the SIP phone configuration
// (extensions, buttons, heartbeat) submitted through the options flow.
package sipconfig

import (
	"github.com/emiago/sipgo/sip"
)

// DefaultHeartbeatIntervalMs is applied when heartbeatIntervalMs is omitted.
const DefaultHeartbeatIntervalMs = 30000

// Top-level keys of the sip_config mapping.
const (
	KeyExtensions = "extensions"
	KeyButtons    = "buttons"
	KeyHeartbeat  = "heartbeatIntervalMs"
)

// SipConfiguration is the normalized sip_config option.
type SipConfiguration struct {
	Extensions          []Extension `json:"extensions" yaml:"extensions"`
	Buttons             []Button    `json:"buttons" yaml:"buttons"`
	HeartbeatIntervalMs int         `json:"heartbeatIntervalMs" yaml:"heartbeatIntervalMs"`

	// Extra holds top-level keys the validator does not interpret (front-end
	// settings). They are carried through ToMap unchanged.
	Extra map[string]any `json:"-" yaml:"-"`
}

// Extension is a SIP endpoint with its credentials.
type Extension struct {
	Number   string `json:"number" yaml:"number"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Domain   string `json:"domain" yaml:"domain"`
}

// AOR 返回分机的 address-of-record（sip:user@domain）。
func (e Extension) AOR() string {
	uri := sip.Uri{
		Scheme: "sip",
		User:   e.User,
		Host:   e.Domain,
	}
	return uri.String()
}

// Button is a speed-dial entry. Number refers to an Extension.Number by value.
type Button struct {
	Name   string `json:"name" yaml:"name"`
	Number string `json:"number" yaml:"number"`
}

// Default returns the configuration used when no sip_config option exists yet.
func Default() SipConfiguration {
	return SipConfiguration{
		Extensions:          []Extension{},
		Buttons:             []Button{},
		HeartbeatIntervalMs: DefaultHeartbeatIntervalMs,
	}
}

// Clone returns a deep copy; the result shares no slices or maps with c.
func (c SipConfiguration) Clone() SipConfiguration {
	out := SipConfiguration{
		Extensions:          make([]Extension, len(c.Extensions)),
		Buttons:             make([]Button, len(c.Buttons)),
		HeartbeatIntervalMs: c.HeartbeatIntervalMs,
	}
	copy(out.Extensions, c.Extensions)
	copy(out.Buttons, c.Buttons)
	if c.Extra != nil {
		out.Extra = deepCopyMap(c.Extra)
	}
	return out
}

// WithHeartbeat returns a copy with the heartbeat interval replaced.
func (c SipConfiguration) WithHeartbeat(ms int) SipConfiguration {
	out := c.Clone()
	out.HeartbeatIntervalMs = ms
	return out
}

// ToMap renders the configuration as the mapping persisted in entry options.
func (c SipConfiguration) ToMap() map[string]any {
	out := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = deepCopyValue(v)
	}
	exts := make([]any, 0, len(c.Extensions))
	for _, e := range c.Extensions {
		exts = append(exts, map[string]any{
			"number":   e.Number,
			"user":     e.User,
			"password": e.Password,
			"domain":   e.Domain,
		})
	}
	btns := make([]any, 0, len(c.Buttons))
	for _, b := range c.Buttons {
		btns = append(btns, map[string]any{
			"name":   b.Name,
			"number": b.Number,
		})
	}
	out[KeyExtensions] = exts
	out[KeyButtons] = btns
	out[KeyHeartbeat] = c.HeartbeatIntervalMs
	return out
}

// ExtensionByNumber looks up an extension by its number.
func (c SipConfiguration) ExtensionByNumber(number string) (Extension, bool) {
	for _, e := range c.Extensions {
		if e.Number == number {
			return e, true
		}
	}
	return Extension{}, false
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
