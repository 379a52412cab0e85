package domain

import (
	"errors"
	"fmt"
)

// ResponseSchemaVersion is the version of the envelope shape stamped into every Meta.
const ResponseSchemaVersion = "1.0"

// Meta is stamped by the engine on every response, overwriting anything a handler set.
type Meta struct {
	ToolID                string `json:"toolId"`
	ToolVersion           string `json:"toolVersion"`
	RegistryVersion       string `json:"registryVersion"`
	DurationMs            int64  `json:"durationMs"`
	ResponseSchemaVersion string `json:"responseSchemaVersion"`

	// Attempts is set by the retry handler when more than one attempt was made.
	Attempts int `json:"attempts,omitempty"`
	// Reused and Guidance are set when a response is served from session history.
	Reused   bool   `json:"reused,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

// ToolResponse is the uniform envelope between handler, engine and orchestrator.
type ToolResponse struct {
	OK      bool       `json:"ok"`
	Data    any        `json:"data,omitempty"`
	Intents []Intent   `json:"intents,omitempty"`
	Error   *ToolError `json:"error,omitempty"`
	Meta    Meta       `json:"meta"`
}

// Success builds an ok=true response.
func Success(data any, intents ...Intent) *ToolResponse {
	return &ToolResponse{OK: true, Data: data, Intents: intents}
}

// Failure builds an ok=false response.
func Failure(err *ToolError) *ToolResponse {
	return &ToolResponse{OK: false, Error: err}
}

// Clone copies the envelope. Data is shared, it is treated as immutable once returned.
func (r *ToolResponse) Clone() *ToolResponse {
	if r == nil {
		return nil
	}
	c := *r
	if r.Intents != nil {
		c.Intents = append([]Intent(nil), r.Intents...)
	}
	c.Error = r.Error.Clone()
	return &c
}

// Validate checks the envelope shape a handler returned.
func (r *ToolResponse) Validate() error {
	if r == nil {
		return errors.New("response is nil")
	}
	if r.OK {
		if r.Error != nil {
			return errors.New("ok response must not carry an error")
		}
		for i, in := range r.Intents {
			if in.Type == "" {
				return fmt.Errorf("intent %d has no type", i)
			}
		}
		return nil
	}
	if r.Error == nil {
		return errors.New("failed response must carry an error")
	}
	if !r.Error.Type.Valid() {
		return fmt.Errorf("unknown error type %q", r.Error.Type)
	}
	if r.Error.Message == "" {
		return errors.New("error message is empty")
	}
	if len(r.Intents) > 0 {
		return errors.New("failed response must not carry intents")
	}
	return nil
}
