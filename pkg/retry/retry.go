// Package retry wraps tool execution with exponential backoff.
//
// Whether a failure is retried depends on the execution mode and on the
// flags of the failure itself; delays come from cenkalti/backoff curves with
// symmetric jitter and are waited on with cancellable timers.
package retry

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/cenkalti/backoff/v5"
)

// Curve describes one exponential backoff schedule.
type Curve struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"` // symmetric, 0.2 means +/-20%
}

func (c Curve) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Initial
	b.MaxInterval = c.Max
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	b.Reset()
	return b
}

// Policy bounds retries.
type Policy struct {
	MaxAttempts     int      `mapstructure:"max_attempts"`
	Base            Curve    `mapstructure:"base"`
	Unavailable     Curve    `mapstructure:"unavailable"`
	LowLatencyModes []string `mapstructure:"low_latency_modes"`
}

// DefaultPolicy retries up to three attempts, never under the realtime mode.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		Base:            Curve{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2, Jitter: 0.2},
		Unavailable:     Curve{Initial: time.Second, Max: 8 * time.Second, Multiplier: 2.5, Jitter: 0.2},
		LowLatencyModes: []string{domain.ModeRealtime},
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// TimerSleep waits on a timer that is stopped on cancellation.
func TimerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Call describes what is being retried.
type Call struct {
	ToolID     string
	Idempotent bool
	Mode       string
}

// Handler applies a Policy.
type Handler struct {
	policy Policy
	sleep  Sleeper
	logger *slog.Logger
}

// Option configures the Handler.
type Option func(*Handler)

// WithSleeper replaces the timer-based wait, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(h *Handler) {
		h.sleep = s
	}
}

// WithLogger configures a logger for the Handler.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// New creates a Handler.
func New(policy Policy, opts ...Option) *Handler {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	h := &Handler{
		policy: policy,
		sleep:  TimerSleep,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LowLatency reports whether retries are disabled for mode.
func (h *Handler) LowLatency(mode string) bool {
	return slices.Contains(h.policy.LowLatencyModes, mode)
}

// ShouldRetry reports whether a failed response may be attempted again.
// A retry could duplicate a side effect, so anything short of a clean, retryable failure stops.
func ShouldRetry(resp *domain.ToolResponse, idempotent bool) bool {
	if resp == nil || resp.OK || resp.Error == nil {
		return false
	}
	e := resp.Error
	switch {
	case !e.Retryable:
		return false
	case e.IdempotencyRequired && !idempotent:
		return false
	case e.PartialSideEffects:
		return false
	}
	return true
}

// Do runs fn and retries it according to the policy.
// ctx only bounds the waits between attempts. The last response is returned unchanged.
func (h *Handler) Do(ctx context.Context, call Call, fn func() *domain.ToolResponse) *domain.ToolResponse {
	resp := fn()
	if h.LowLatency(call.Mode) {
		return resp
	}

	var base, slow *backoff.ExponentialBackOff
	attempts := 1
	for attempts < h.policy.MaxAttempts && ShouldRetry(resp, call.Idempotent) {
		var delay time.Duration
		if resp.Error.ServiceUnavailable() {
			if slow == nil {
				slow = h.policy.Unavailable.backoff()
			}
			delay = slow.NextBackOff()
		} else {
			if base == nil {
				base = h.policy.Base.backoff()
			}
			delay = base.NextBackOff()
		}

		h.logger.Info("Retrying tool call",
			"tool_id", call.ToolID,
			"attempt", attempts+1,
			"delay", delay,
			"kind", resp.Error.Type,
		)
		if err := h.sleep(ctx, delay); err != nil {
			h.logger.Info("Retry abandoned", "tool_id", call.ToolID, "attempt", attempts+1, "err", err)
			break
		}
		resp = fn()
		attempts++
	}

	if attempts > 1 && resp != nil {
		resp.Meta.Attempts = attempts
	}
	return resp
}
