package validation

import (
	"fmt"
	"strings"
)

// ValidationError describes a single rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every rejected field of a request so the
// caller sees all problems in one round trip.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, &ValidationError{Field: field, Value: value, Message: message})
}

func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
