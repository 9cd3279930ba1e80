package filter

import (
	"fmt"
	"strings"
)

// ValidationError is caused by request input and is safe to show to the caller.
type ValidationError struct {
	Field   string
	Tokens  []string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Tokens) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Tokens, ", "))
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

const ambiguousOrdering = "Field names can appear at most once for order_by. The following was ambiguous"

func invalidValue(field string, value any, want string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("cannot use %v (%T) as %s", value, value, want),
	}
}
