package domain

import "context"

// Well-known capability flags.
const (
	CapabilityConfirmed  = "confirmed"
	CapabilityAudio      = "audio"
	CapabilityTranscript = "transcript"
)

// Capabilities is the set of boolean flags a handler may consult.
type Capabilities map[string]bool

// Has reports whether flag is set.
func (c Capabilities) Has(flag string) bool {
	return c[flag]
}

// Clone copies the flag set.
func (c Capabilities) Clone() Capabilities {
	out := make(Capabilities, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// SessionView is a read-only view of session state.
type SessionView interface {
	Get(key string) any
	Mode() string
	Active() bool
}

// ExecContext is everything a handler receives. Handlers never see transport objects.
type ExecContext struct {
	Args         map[string]any
	Session      SessionView
	Capabilities Capabilities
	Tool         ToolMetadata
	Turn         int
}

// Handler implements a tool. It returns an envelope, or an error.
// A *ToolError keeps its flags; any other error is treated as unexpected.
type Handler func(ctx context.Context, ec *ExecContext) (*ToolResponse, error)
