package sipconfig

import (
	"errors"

	"go.uber.org/multierr"
)

// ErrorCode is the machine-readable code the options form renders for any
// rejected sip_config.
const ErrorCode = "invalid_config"

// Kind classifies a validation failure.
type Kind int

const (
	// TypeKind: the candidate is not a mapping.
	TypeKind Kind = iota + 1
	// SchemaKind: a top-level field is missing or has the wrong type.
	SchemaKind
	// FieldKind: a nested entry field is missing or has the wrong type.
	FieldKind
	// PatternKind: an extension number is malformed.
	PatternKind
	// RangeKind: heartbeatIntervalMs is not a positive integer.
	RangeKind
)

func (k Kind) String() string {
	switch k {
	case TypeKind:
		return "type"
	case SchemaKind:
		return "schema"
	case FieldKind:
		return "field"
	case PatternKind:
		return "pattern"
	case RangeKind:
		return "range"
	default:
		return "unknown"
	}
}

// ValidationError is one failed constraint. Path is the dotted field path
// ("extensions[0].user"); it is empty for TypeKind.
type ValidationError struct {
	Kind    Kind
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Code returns the form error code.
func (e *ValidationError) Code() string {
	return ErrorCode
}

func newError(kind Kind, path, msg string) *ValidationError {
	return &ValidationError{Kind: kind, Path: path, Message: msg}
}

// Errors flattens err into its ValidationErrors. Errors that are not
// ValidationErrors are skipped.
func Errors(err error) []*ValidationError {
	if err == nil {
		return nil
	}
	var out []*ValidationError
	for _, e := range multierr.Errors(err) {
		var ve *ValidationError
		if errors.As(e, &ve) {
			out = append(out, ve)
		}
	}
	return out
}

// Messages returns the message of every ValidationError in err.
func Messages(err error) []string {
	errs := Errors(err)
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Message)
	}
	return out
}

// KindOf returns the kind of the first ValidationError in err, or 0.
func KindOf(err error) Kind {
	if errs := Errors(err); len(errs) > 0 {
		return errs[0].Kind
	}
	return 0
}

// IsKind reports whether any error in err has the given kind.
func IsKind(err error, kind Kind) bool {
	for _, e := range Errors(err) {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
