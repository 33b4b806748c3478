package sipconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML or JSON document and validates it.
func Parse(data []byte) (SipConfiguration, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return SipConfiguration{}, newError(TypeKind, "", "not an object")
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return SipConfiguration{}, newError(TypeKind, "", fmt.Sprintf("malformed document: %v", err))
	}
	return Validate(doc)
}

// ParseFile reads path and parses it. A document with a top-level
// sip_config key is unwrapped first.
func ParseFile(path string) (SipConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SipConfiguration{}, fmt.Errorf("read sip config: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return SipConfiguration{}, newError(TypeKind, "", fmt.Sprintf("malformed document: %v", err))
	}
	if m, ok := asMap(doc); ok {
		if inner, ok := m[OptionKey]; ok {
			doc = inner
		}
	}
	return Validate(doc)
}

// OptionKey is the entry-options key holding the configuration.
const OptionKey = "sip_config"

// MarshalYAML renders the persisted mapping, Extra keys included.
func (c SipConfiguration) MarshalYAML() (any, error) {
	return c.ToMap(), nil
}

// MarshalJSON renders the persisted mapping, Extra keys included.
func (c SipConfiguration) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToMap())
}
