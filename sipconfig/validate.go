package sipconfig

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"go.uber.org/multierr"
)

// ExtensionNumberPattern is the accepted syntax of an extension number.
const ExtensionNumberPattern = `^[A-Za-z0-9_-]{1,20}$`

var extensionNumberRe = regexp.MustCompile(ExtensionNumberPattern)

// ValidExtensionNumber reports whether s is a well-formed extension number.
func ValidExtensionNumber(s string) bool {
	return extensionNumberRe.MatchString(s)
}

// Validate checks candidate against the sip_config schema and returns the
// normalized configuration with defaults applied. On failure the returned
// error combines every failed constraint; use Errors to inspect them.
//
// candidate may be a decoded JSON/YAML mapping, a SipConfiguration or a
// *SipConfiguration. Validate does not modify candidate.
func Validate(candidate any) (SipConfiguration, error) {
	switch c := candidate.(type) {
	case SipConfiguration:
		return Validate(c.ToMap())
	case *SipConfiguration:
		if c == nil {
			return SipConfiguration{}, newError(TypeKind, "", "not an object")
		}
		return Validate(c.ToMap())
	}

	root, ok := asMap(candidate)
	if !ok {
		return SipConfiguration{}, newError(TypeKind, "", "not an object")
	}

	var (
		cfg  SipConfiguration
		errs error
	)

	rawExts, err := requireList(root, KeyExtensions)
	errs = multierr.Append(errs, err)
	rawBtns, err := requireList(root, KeyButtons)
	errs = multierr.Append(errs, err)

	cfg.Extensions = make([]Extension, 0, len(rawExts))
	for i, raw := range rawExts {
		ext, err := validateExtension(i, raw)
		errs = multierr.Append(errs, err)
		cfg.Extensions = append(cfg.Extensions, ext)
	}

	cfg.Buttons = make([]Button, 0, len(rawBtns))
	for i, raw := range rawBtns {
		btn, err := validateButton(i, raw)
		errs = multierr.Append(errs, err)
		cfg.Buttons = append(cfg.Buttons, btn)
	}

	cfg.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	if v, present := root[KeyHeartbeat]; present && v != nil {
		ms, ok := asPositiveInt(v)
		if !ok {
			errs = multierr.Append(errs, newError(RangeKind, KeyHeartbeat,
				fmt.Sprintf("%s must be a positive integer, got %v", KeyHeartbeat, v)))
		} else {
			cfg.HeartbeatIntervalMs = ms
		}
	}

	for k, v := range root {
		switch k {
		case KeyExtensions, KeyButtons, KeyHeartbeat:
			continue
		}
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]any)
		}
		cfg.Extra[k] = deepCopyValue(normalizeValue(v))
	}

	if errs != nil {
		return SipConfiguration{}, errs
	}
	return cfg, nil
}

func requireList(root map[string]any, key string) ([]any, error) {
	v, present := root[key]
	if !present {
		return nil, newError(SchemaKind, key, key+" field is required")
	}
	list, ok := asList(v)
	if !ok {
		return nil, newError(SchemaKind, key, key+" must be an array")
	}
	return list, nil
}

func validateExtension(i int, raw any) (Extension, error) {
	path := fmt.Sprintf("%s[%d]", KeyExtensions, i)
	m, ok := asMap(raw)
	if !ok {
		return Extension{}, newError(FieldKind, path, path+" must be an object")
	}

	var (
		ext  Extension
		errs error
		err  error
	)
	ext.Number, err = stringField(m, path, "number", false)
	if err == nil && !ValidExtensionNumber(ext.Number) {
		err = newError(PatternKind, path+".number",
			fmt.Sprintf("%s.number %q does not match %s", path, ext.Number, ExtensionNumberPattern))
	}
	errs = multierr.Append(errs, err)

	ext.User, err = stringField(m, path, "user", true)
	errs = multierr.Append(errs, err)
	ext.Password, err = stringField(m, path, "password", true)
	errs = multierr.Append(errs, err)
	ext.Domain, err = stringField(m, path, "domain", true)
	errs = multierr.Append(errs, err)
	return ext, errs
}

func validateButton(i int, raw any) (Button, error) {
	path := fmt.Sprintf("%s[%d]", KeyButtons, i)
	m, ok := asMap(raw)
	if !ok {
		return Button{}, newError(FieldKind, path, path+" must be an object")
	}
	var (
		btn  Button
		errs error
		err  error
	)
	btn.Name, err = stringField(m, path, "name", false)
	errs = multierr.Append(errs, err)
	btn.Number, err = stringField(m, path, "number", false)
	errs = multierr.Append(errs, err)
	return btn, errs
}

func stringField(m map[string]any, path, key string, nonEmpty bool) (string, error) {
	full := path + "." + key
	v, present := m[key]
	if !present || v == nil {
		return "", newError(FieldKind, full, full+" is required")
	}
	s, ok := v.(string)
	if !ok {
		return "", newError(FieldKind, full, full+" must be a string")
	}
	if nonEmpty && s == "" {
		return "", newError(FieldKind, full, full+" must not be empty")
	}
	return s, nil
}

// asMap accepts string-keyed mappings as produced by encoding/json and yaml.v3.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		if m == nil {
			return nil, false
		}
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, e := range l {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

func asPositiveInt(v any) (int, bool) {
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case uint:
		if uint64(t) > math.MaxInt32 {
			return 0, false
		}
		n = int64(t)
	case uint32:
		n = int64(t)
	case uint64:
		if t > math.MaxInt32 {
			return 0, false
		}
		n = int64(t)
	case float32:
		return asPositiveInt(float64(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) || t > math.MaxInt32 {
			return 0, false
		}
		n = int64(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			// "15000.0" 这类整数值的小数写法与 float64 同样处理
			f, ferr := t.Float64()
			if ferr != nil {
				return 0, false
			}
			return asPositiveInt(f)
		}
		n = i
	default:
		return 0, false
	}
	if n <= 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

// normalizeValue converts yaml.v3 map[any]any nodes to map[string]any so that
// Extra values serialize as JSON.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
