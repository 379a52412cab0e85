// Package loopguard stops an agent from calling tools in circles within a turn.
package loopguard

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
)

// Config holds the loop limits.
type Config struct {
	// SameCallLimit is how many identical attempts a turn allows; the next one is rejected.
	SameCallLimit int `mapstructure:"same_call_limit"`
	// EmptyResultLimit is how many empty results a tool may return in a turn.
	// The call that reaches the limit is replaced by a rejection, later calls are not executed.
	EmptyResultLimit int `mapstructure:"empty_result_limit"`
	// WindowTurns bounds how much history is retained.
	WindowTurns int `mapstructure:"window_turns"`
}

// DefaultConfig rejects the third identical call and the second empty result.
func DefaultConfig() Config {
	return Config{SameCallLimit: 2, EmptyResultLimit: 2, WindowTurns: 3}
}

type attempt struct {
	toolID      string
	fingerprint string
	turn        int
	empty       bool
	observed    bool
}

// Detector is scoped to one session.
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	turn     int
	attempts []attempt
	logger   *slog.Logger
}

// Option configures the Detector.
type Option func(*Detector)

// WithLogger configures a logger for the Detector.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// New creates a Detector. Zero config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.SameCallLimit <= 0 {
		cfg.SameCallLimit = def.SameCallLimit
	}
	if cfg.EmptyResultLimit <= 0 {
		cfg.EmptyResultLimit = def.EmptyResultLimit
	}
	if cfg.WindowTurns <= 0 {
		cfg.WindowTurns = def.WindowTurns
	}
	d := &Detector{cfg: cfg, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StartTurn moves to a new turn and prunes attempts outside the window.
func (d *Detector) StartTurn(turn int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turn = turn
	kept := d.attempts[:0]
	for _, a := range d.attempts {
		if a.turn > turn-d.cfg.WindowTurns {
			kept = append(kept, a)
		}
	}
	d.attempts = kept
}

// Admit records an attempt, or returns a LOOP_DETECTED rejection without recording it.
func (d *Detector) Admit(toolID, fingerprint string) *domain.ToolResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	same, empty := 0, 0
	for _, a := range d.attempts {
		if a.turn != d.turn || a.toolID != toolID {
			continue
		}
		if a.fingerprint == fingerprint {
			same++
		}
		if a.empty {
			empty++
		}
	}

	if same >= d.cfg.SameCallLimit {
		d.logger.Warn("Same-call loop detected", "tool_id", toolID, "attempts", same)
		return rejection(fmt.Sprintf(
			"%s was already called %d times this turn with the same arguments. "+
				"Use the results you already have, change the arguments, or answer without this tool.",
			toolID, same), "same_call", same)
	}
	if empty >= d.cfg.EmptyResultLimit {
		d.logger.Warn("Empty-result loop detected", "tool_id", toolID, "empty_results", empty)
		return emptyRejection(toolID, empty)
	}

	d.attempts = append(d.attempts, attempt{toolID: toolID, fingerprint: fingerprint, turn: d.turn})
	return nil
}

// Observe records the outcome of an admitted attempt. When the result is the
// empty result that reaches the limit, it returns the rejection that replaces it.
func (d *Detector) Observe(toolID, fingerprint string, resp *domain.ToolResponse) *domain.ToolResponse {
	if !IsEmpty(resp) {
		d.mark(toolID, fingerprint, false)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.markLocked(toolID, fingerprint, true)

	empty := 0
	for _, a := range d.attempts {
		if a.turn == d.turn && a.toolID == toolID && a.empty {
			empty++
		}
	}
	if empty >= d.cfg.EmptyResultLimit {
		d.logger.Warn("Empty-result loop detected", "tool_id", toolID, "empty_results", empty)
		return emptyRejection(toolID, empty)
	}
	return nil
}

func (d *Detector) mark(toolID, fingerprint string, empty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markLocked(toolID, fingerprint, empty)
}

// markLocked sets the outcome on the latest unobserved matching attempt.
func (d *Detector) markLocked(toolID, fingerprint string, empty bool) {
	for i := len(d.attempts) - 1; i >= 0; i-- {
		a := &d.attempts[i]
		if a.turn == d.turn && a.toolID == toolID && a.fingerprint == fingerprint && !a.observed {
			a.observed = true
			a.empty = empty
			return
		}
	}
}

// Reset drops all history.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = nil
}

// Len returns the number of retained attempts.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}

func emptyRejection(toolID string, n int) *domain.ToolResponse {
	return rejection(fmt.Sprintf(
		"%s returned no results %d times this turn. "+
			"Broaden or rephrase the request, try a different tool, or tell the user nothing was found.",
		toolID, n), "empty_result", n)
}

func rejection(msg, loop string, count int) *domain.ToolResponse {
	e := domain.NewError(domain.KindLoopDetected, "%s", msg)
	e.Details = map[string]any{"loop": loop, "count": count}
	return domain.Failure(e)
}

// IsEmpty reports whether a successful response carries no usable result:
// nil data, a blank string, an empty collection, or a map whose "results" or
// "items" collection is empty. Failures are never empty results.
func IsEmpty(resp *domain.ToolResponse) bool {
	if resp == nil || !resp.OK {
		return false
	}
	return emptyValue(resp.Data)
}

func emptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	if m, ok := v.(map[string]any); ok {
		if len(m) == 0 {
			return true
		}
		for _, field := range []string{"results", "items"} {
			if inner, ok := m[field]; ok {
				return emptyValue(inner)
			}
		}
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	}
	return false
}
