package domain

import "fmt"

// ReasonServiceUnavailable marks a TRANSIENT failure caused by a dependency that is wholly down.
// The retry handler uses a slower backoff curve for it.
const ReasonServiceUnavailable = "service_unavailable"

// ToolError is the structured failure carried by a ToolResponse.
// It implements error so handlers can return it directly.
type ToolError struct {
	Type                ErrorKind      `json:"type"`
	Message             string         `json:"message"`
	Retryable           bool           `json:"retryable"`
	IdempotencyRequired bool           `json:"idempotencyRequired,omitempty"`
	PartialSideEffects  bool           `json:"partialSideEffects,omitempty"`
	Details             map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ServiceUnavailable reports whether the failure is the "dependency down" sub-kind of TRANSIENT.
func (e *ToolError) ServiceUnavailable() bool {
	if e == nil || e.Type != KindTransient {
		return false
	}
	reason, _ := e.Details["reason"].(string)
	return reason == ReasonServiceUnavailable
}

// WithDetail returns e after setting a details entry.
func (e *ToolError) WithDetail(key string, value any) *ToolError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Clone returns a deep-enough copy for safe reuse across responses.
func (e *ToolError) Clone() *ToolError {
	if e == nil {
		return nil
	}
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// NewError builds a ToolError with the propagation defaults of its layer.
// Pre-execution and policy errors are never retryable and never report side effects.
// Among domain kinds only TRANSIENT and RATE_LIMIT default to retryable.
func NewError(kind ErrorKind, format string, args ...any) *ToolError {
	e := &ToolError{
		Type:    kind,
		Message: fmt.Sprintf(format, args...),
	}
	switch kind {
	case KindTransient, KindRateLimit:
		e.Retryable = true
	}
	return e
}

// Transient builds a retryable TRANSIENT failure.
func Transient(format string, args ...any) *ToolError {
	return NewError(KindTransient, format, args...)
}

// Unavailable builds a retryable TRANSIENT failure for a dependency that is down.
func Unavailable(format string, args ...any) *ToolError {
	return NewError(KindTransient, format, args...).WithDetail("reason", ReasonServiceUnavailable)
}

// Unexpected normalizes an unrecognized failure.
// The caller cannot know what was touched, so side effects are assumed.
func Unexpected(err error) *ToolError {
	e := NewError(KindInternal, "unexpected handler failure: %v", err)
	e.PartialSideEffects = true
	e.Details = map[string]any{"cause": "unexpected"}
	return e
}
