package query

import (
	"fmt"
)

// ValidationKind identifies why a QuerySpec was rejected
type ValidationKind string

const (
	UnknownTable            ValidationKind = "UnknownTable"
	UnknownField            ValidationKind = "UnknownField"
	IncompatibleAggregation ValidationKind = "IncompatibleAggregation"
	IncompatibleOperator    ValidationKind = "IncompatibleOperator"
	InvalidLimit            ValidationKind = "InvalidLimit"
	UnknownOrderField       ValidationKind = "UnknownOrderField"
	InvalidFilterValue      ValidationKind = "InvalidFilterValue"
	EmptySelection          ValidationKind = "EmptySelection"
	DuplicateField          ValidationKind = "DuplicateField"
)

// ValidationError reports a QuerySpec the caller must fix. It is never retryable.
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Detail)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return string(e.Kind)
	}
}

// Is matches any *ValidationError with the same Kind, so callers can write
// errors.Is(err, &ValidationError{Kind: UnknownField}).
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

func newValidationError(kind ValidationKind, field, format string, args ...interface{}) *ValidationError {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &ValidationError{Kind: kind, Field: field, Detail: detail}
}
