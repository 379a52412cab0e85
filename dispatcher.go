package toolgate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/internal/runtime"
	"github.com/aretw0/toolgate/pkg/dedup"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/metrics"
	"github.com/aretw0/toolgate/pkg/retry"
	"github.com/aretw0/toolgate/pkg/session"
)

// Call is one tool invocation requested by the orchestrator.
type Call struct {
	ToolID       string
	Args         map[string]any
	Mode         string              // Defaults to the session mode, then to interactive
	Capabilities domain.Capabilities // Flags forwarded to the handler, e.g. confirmed
}

// Dispatcher runs the per-call pipeline: session and policy guards, loop and
// duplicate detection, retries around the engine, intents and metrics.
type Dispatcher struct {
	engine      *runtime.Engine
	sessions    *session.Manager
	retry       *retry.Handler
	metrics     *metrics.Collector
	maxPerTurn  int
	defaultMode string
	now         func() time.Time
	logger      *slog.Logger
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxCallsPerTurn bounds the calls admitted per session turn. Zero disables the budget.
func WithMaxCallsPerTurn(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxPerTurn = n
	}
}

// WithDefaultMode sets the mode used when neither the call nor the session names one.
func WithDefaultMode(mode string) DispatcherOption {
	return func(d *Dispatcher) {
		d.defaultMode = mode
	}
}

// WithDispatcherClock overrides time.Now for latency budgets.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithDispatcherLogger configures a logger for the Dispatcher.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher wires the pipeline stages together.
func NewDispatcher(engine *runtime.Engine, sessions *session.Manager, rh *retry.Handler, mc *metrics.Collector, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		engine:      engine,
		sessions:    sessions,
		retry:       rh,
		metrics:     mc,
		defaultMode: domain.ModeInteractive,
		now:         time.Now,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Call executes one tool call for sessionID. It always returns a response.
// Calls within one session are serialized.
func (d *Dispatcher) Call(ctx context.Context, sessionID string, call Call) *domain.ToolResponse {
	start := d.now()

	sess, err := d.sessions.Get(sessionID)
	if err != nil || sess.Ended() {
		return d.reject(sessionID, call.ToolID, start, inactive(sessionID))
	}

	var resp *domain.ToolResponse
	err = d.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		// Ending the session stops retry waits. A handler already running
		// keeps the caller's context and completes; its result is discarded.
		waitCtx, stop := context.WithCancel(ctx)
		defer stop()
		unregister := context.AfterFunc(sess.Context(), stop)
		defer unregister()

		resp = d.call(ctx, waitCtx, sess, call, start)
		return nil
	})
	if err != nil {
		d.logger.Warn("Session lock unavailable", "session_id", sessionID, "tool_id", call.ToolID, "err", err)
		te := domain.Transient("session %s is busy: %v", sessionID, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			te.Retryable = false
		}
		return d.reject(sessionID, call.ToolID, start, te)
	}
	return resp
}

func (d *Dispatcher) call(ctx, waitCtx context.Context, sess *session.Session, call Call, start time.Time) *domain.ToolResponse {
	id := call.ToolID
	if sess.Ended() || !sess.State.Active() {
		return d.reject(sess.ID, id, start, inactive(sess.ID))
	}

	tool, ok := d.engine.Registry().Lookup(id)
	if !ok || !sess.Pinned.Contains(id) {
		return d.reject(sess.ID, id, start, domain.NewError(domain.KindNotFound, "tool %q is not registered", id))
	}
	meta := tool.Metadata()

	mode := call.Mode
	if mode == "" {
		mode = sess.State.Mode()
	}
	if mode == "" {
		mode = d.defaultMode
	}
	if !meta.AllowsMode(mode) {
		return d.reject(sess.ID, id, start,
			domain.NewError(domain.KindModeRestricted, "%s is not available in %s mode", id, mode).
				WithDetail("allowedModes", meta.AllowedModes))
	}
	if meta.RequiresConfirmation && !call.Capabilities.Has(domain.CapabilityConfirmed) {
		return d.reject(sess.ID, id, start,
			domain.NewError(domain.KindConfirmationRequired, "%s changes data; confirm with the user before calling it", id))
	}
	if d.maxPerTurn > 0 && sess.CallsThisTurn() >= d.maxPerTurn {
		return d.reject(sess.ID, id, start,
			domain.NewError(domain.KindBudgetExceeded, "at most %d tool calls are allowed per turn", d.maxPerTurn).
				WithDetail("limit", d.maxPerTurn))
	}
	sess.CountCall()

	fp := dedup.Fingerprint(call.Args)
	if r := sess.Loop.Admit(id, fp); r != nil {
		return d.stampAndCount(sess.ID, r, id, start)
	}

	if meta.Cacheable() {
		if cached, hit := sess.Dedup.Check(id, call.Args); hit {
			guidance := cached.Meta.Guidance
			d.engine.Stamp(cached, id, start)
			cached.Meta.Reused = true
			cached.Meta.Guidance = guidance
			if r := sess.Loop.Observe(id, fp, cached); r != nil {
				return d.stampAndCount(sess.ID, r, id, start)
			}
			d.logger.Debug("Served from session history", "session_id", sess.ID, "tool_id", id)
			return cached
		}
	}

	cc := runtime.CallContext{
		Args:         call.Args,
		Session:      sess.State.View(),
		Capabilities: call.Capabilities,
		Turn:         sess.Turn(),
	}
	resp := d.retry.Do(waitCtx, retry.Call{ToolID: id, Idempotent: meta.Idempotent, Mode: mode}, func() *domain.ToolResponse {
		return d.engine.ExecuteTool(ctx, id, cc)
	})
	elapsed := d.now().Sub(start)
	d.observe(sess.ID, id, meta, resp, elapsed)

	if sess.Ended() {
		d.logger.Info("Discarding result of ended session", "session_id", sess.ID, "tool_id", id)
		return d.reject(sess.ID, id, start, inactive(sess.ID))
	}

	if resp.OK {
		sess.State.ApplyIntents(resp.Intents)
	}
	sess.Dedup.Record(id, call.Args, resp)

	if r := sess.Loop.Observe(id, fp, resp); r != nil {
		return d.stampAndCount(sess.ID, r, id, start)
	}
	return resp
}

// observe records one execution. Metrics never fail a call.
func (d *Dispatcher) observe(sessionID, toolID string, meta domain.ToolMetadata, resp *domain.ToolResponse, elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	d.metrics.RecordExecution(toolID, ms, resp.OK)
	d.metrics.RecordSessionCall(sessionID, toolID, ms, resp.OK)
	if resp.OK {
		d.metrics.RecordResponsePayload(toolID, resp.Data)
	} else {
		d.metrics.RecordError(toolID, resp.Error.Type)
	}
	if budget := meta.LatencyBudget(); budget > 0 && elapsed > budget {
		d.metrics.RecordBudgetViolation(toolID, ms, meta.LatencyBudgetMs)
		d.logger.Warn("Latency budget exceeded",
			"session_id", sessionID,
			"tool_id", toolID,
			"duration_ms", ms,
			"budget_ms", meta.LatencyBudgetMs,
		)
	}
}

// reject builds a stamped failure for a call that never reached the handler.
func (d *Dispatcher) reject(sessionID, toolID string, start time.Time, te *domain.ToolError) *domain.ToolResponse {
	return d.stampAndCount(sessionID, domain.Failure(te), toolID, start)
}

func (d *Dispatcher) stampAndCount(sessionID string, resp *domain.ToolResponse, toolID string, start time.Time) *domain.ToolResponse {
	d.engine.Stamp(resp, toolID, start)
	if !resp.OK {
		label := toolID
		if _, ok := d.engine.Registry().Lookup(toolID); !ok {
			label = metrics.UnknownTool
		}
		d.metrics.RecordError(label, resp.Error.Type)
		d.logger.Debug("Call rejected", "session_id", sessionID, "tool_id", toolID, "type", resp.Error.Type)
	}
	return resp
}

func inactive(sessionID string) *domain.ToolError {
	return domain.NewError(domain.KindSessionInactive, "session %s is not active", sessionID)
}
