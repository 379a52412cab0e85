package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestToolResponse_Validate(t *testing.T) {
	tests := []struct {
		name    string
		resp    *ToolResponse
		wantErr bool
	}{
		{name: "nil", resp: nil, wantErr: true},
		{name: "success without data", resp: Success(nil)},
		{name: "success with intents", resp: Success(map[string]any{"a": 1}, EndSession(AfterCurrentTurn))},
		{name: "success carrying error", resp: &ToolResponse{OK: true, Error: Transient("x")}, wantErr: true},
		{name: "intent without type", resp: &ToolResponse{OK: true, Intents: []Intent{{}}}, wantErr: true},
		{name: "failure", resp: Failure(NewError(KindPermanent, "nope"))},
		{name: "failure without error", resp: &ToolResponse{OK: false}, wantErr: true},
		{name: "failure with unknown kind", resp: Failure(&ToolError{Type: "BOGUS", Message: "x"}), wantErr: true},
		{name: "failure without message", resp: Failure(&ToolError{Type: KindConflict}), wantErr: true},
		{
			name:    "failure with intents",
			resp:    &ToolResponse{OK: false, Error: Transient("x"), Intents: []Intent{SetPendingMessage("hi")}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewError_PropagationDefaults(t *testing.T) {
	for _, kind := range Kinds() {
		e := NewError(kind, "m")
		switch kind.Layer() {
		case LayerPreExecution, LayerPolicy:
			if e.Retryable || e.PartialSideEffects {
				t.Errorf("%s: pre-execution and policy errors must be non-retryable without side effects", kind)
			}
		case LayerDomain:
		default:
			t.Errorf("%s: missing layer", kind)
		}
	}

	if !NewError(KindTransient, "x").Retryable {
		t.Error("TRANSIENT should default to retryable")
	}
	if NewError(KindPermanent, "x").Retryable {
		t.Error("PERMANENT should not be retryable")
	}
}

func TestToolError_ServiceUnavailable(t *testing.T) {
	if !Unavailable("db down").ServiceUnavailable() {
		t.Error("Unavailable() should report the service_unavailable sub-kind")
	}
	if Transient("blip").ServiceUnavailable() {
		t.Error("plain transient should not be service_unavailable")
	}
	if NewError(KindPermanent, "x").WithDetail("reason", ReasonServiceUnavailable).ServiceUnavailable() {
		t.Error("only TRANSIENT carries the sub-kind")
	}
}

func TestToolError_IsAnError(t *testing.T) {
	var err error = NewError(KindAuth, "token expired")
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatal("ToolError should satisfy errors.As")
	}
	if te.Error() != "AUTH: token expired" {
		t.Errorf("Error() = %q", te.Error())
	}
}

func TestUnexpected_AssumesSideEffects(t *testing.T) {
	e := Unexpected(errors.New("boom"))
	if e.Type != KindInternal || e.Retryable || !e.PartialSideEffects {
		t.Errorf("Unexpected() = %+v", e)
	}
}

func TestPendingEnd_JSONShape(t *testing.T) {
	b, err := json.Marshal(PendingEnd{After: AfterCurrentTurn})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"after":"current_turn"}` {
		t.Errorf("got %s", b)
	}
}

func TestToolResponse_CloneIsolatesError(t *testing.T) {
	orig := Failure(Transient("x").WithDetail("k", "v"))
	c := orig.Clone()
	c.Error.Details["k"] = "changed"
	c.Error.Retryable = false
	if orig.Error.Details["k"] != "v" || !orig.Error.Retryable {
		t.Error("Clone() must not alias the error")
	}
}
