// Package state owns per-session mutable state.
//
// A Controller is the only holder of a session's state record. Handlers see a
// read-only view and request changes by returning intents, which the
// controller applies after the call. Nothing else keeps a mutable reference.
package state

import (
	"log/slog"
	"sync"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
)

// Well-known state keys.
const (
	KeyMode               = "mode"
	KeyActive             = "active"
	KeySuppressAudio      = "suppressAudio"
	KeySuppressTranscript = "suppressTranscript"
	KeyPendingMessage     = "pendingMessage"
	KeyPendingEndSession  = "pendingEndSession"
)

// Snapshot is an immutable copy of session state.
type Snapshot map[string]any

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = deepCopy(v)
	}
	return out
}

// Controller applies intents and setters to one session's state.
type Controller struct {
	mu     sync.RWMutex
	data   map[string]any
	logger *slog.Logger
}

// Option configures the Controller.
type Option func(*Controller)

// WithLogger configures a logger for the Controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a controller from an initial record. The record is copied.
// A session starts active unless initial says otherwise.
func New(initial map[string]any, opts ...Option) *Controller {
	c := &Controller{
		data:   make(map[string]any, len(initial)+1),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for k, v := range initial {
		c.data[k] = deepCopy(v)
	}
	// a marker restored from a store arrives as a decoded JSON object
	if m, ok := c.data[KeyPendingEndSession].(map[string]any); ok {
		after, _ := m["after"].(string)
		c.data[KeyPendingEndSession] = domain.PendingEnd{After: after}
	}
	if _, ok := c.data[KeyActive]; !ok {
		c.data[KeyActive] = true
	}
	return c
}

// Get returns the value stored under key, or nil.
func (c *Controller) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopy(c.data[key])
}

// Set stores a copy of value under key.
func (c *Controller) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = deepCopy(value)
}

// ApplyIntent applies one intent. Unknown intent types are logged and ignored.
func (c *Controller) ApplyIntent(in domain.Intent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch in.Type {
	case domain.IntentEndSession:
		after := in.After
		if after == "" {
			after = domain.AfterCurrentTurn
		}
		c.data[KeyPendingEndSession] = domain.PendingEnd{After: after}
	case domain.IntentSuppressAudio:
		c.data[KeySuppressAudio] = flag(in.Value)
	case domain.IntentSuppressTranscript:
		c.data[KeySuppressTranscript] = flag(in.Value)
	case domain.IntentSetPendingMessage:
		c.data[KeyPendingMessage] = in.Message
	default:
		c.logger.Warn("Ignoring unknown intent", "type", in.Type)
		return false
	}
	return true
}

// ApplyIntents applies intents in order and returns how many were applied.
func (c *Controller) ApplyIntents(intents []domain.Intent) int {
	n := 0
	for _, in := range intents {
		if c.ApplyIntent(in) {
			n++
		}
	}
	return n
}

// a bare suppress intent means "suppress"
func flag(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

// Snapshot returns a deep copy of the state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(Snapshot, len(c.data))
	for k, v := range c.data {
		out[k] = deepCopy(v)
	}
	return out
}

// Mode returns the current execution mode.
func (c *Controller) Mode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, _ := c.data[KeyMode].(string)
	return m
}

// Active reports whether the session accepts calls.
func (c *Controller) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, _ := c.data[KeyActive].(bool)
	return a
}

// PendingEnd returns the end-of-session marker set by an EndSession intent.
func (c *Controller) PendingEnd() (domain.PendingEnd, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.data[KeyPendingEndSession].(domain.PendingEnd)
	return p, ok
}

// TakePendingMessage returns and clears the message stored for the next turn.
func (c *Controller) TakePendingMessage() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.data[KeyPendingMessage].(string)
	if !ok || msg == "" {
		return "", false
	}
	delete(c.data, KeyPendingMessage)
	return msg, true
}

// View returns a read-only view for handlers.
func (c *Controller) View() domain.SessionView {
	return view{c: c}
}

type view struct {
	c *Controller
}

func (v view) Get(key string) any { return v.c.Get(key) }
func (v view) Mode() string       { return v.c.Mode() }
func (v view) Active() bool       { return v.c.Active() }

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = deepCopy(e)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
