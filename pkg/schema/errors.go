package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Key    string // Field path, dot separated; empty for the root object
	Reason string // Human-readable reason for failure
	Value  any    // The value that failed validation
}

func (e *ValidationError) Error() string {
	key := e.Key
	if key == "" {
		key = "(root)"
	}
	if e.Value == nil {
		return fmt.Sprintf("field %q: %s", key, e.Reason)
	}
	return fmt.Sprintf("field %q: %s (got %T)", key, e.Reason, e.Value)
}

// AggregateError represents multiple validation failures.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

// ValidationErrors returns all validation errors if err is an AggregateError.
// Otherwise returns nil.
func ValidationErrors(err error) []error {
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		return aggr.Errors
	}
	return nil
}

// FieldMessages maps each failing field to its reasons.
func FieldMessages(err error) map[string][]string {
	out := make(map[string][]string)
	for _, e := range ValidationErrors(err) {
		var ve *ValidationError
		if errors.As(e, &ve) {
			key := ve.Key
			if key == "" {
				key = "(root)"
			}
			out[key] = append(out[key], ve.Reason)
		}
	}
	return out
}
