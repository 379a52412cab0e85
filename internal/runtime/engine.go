package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/aretw0/toolgate/pkg/schema"
)

// CallContext carries what the orchestrator knows about a call.
type CallContext struct {
	Args         map[string]any
	Session      domain.SessionView
	Capabilities domain.Capabilities
	Turn         int
}

// Engine executes tool calls against a loaded registry.
// It holds no per-call state and is safe for concurrent use.
type Engine struct {
	registry *registry.Registry
	hooks    Hooks
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger configures a logger for the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHooks registers lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) {
		e.hooks = h
	}
}

// WithClock overrides time.Now for the elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine reading from reg.
func NewEngine(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the engine reads from.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// ExecuteTool runs one call. It always returns a response with stamped Meta.
func (e *Engine) ExecuteTool(ctx context.Context, toolID string, cc CallContext) *domain.ToolResponse {
	start := e.now()

	tool, ok := e.registry.Lookup(toolID)
	if !ok {
		resp := domain.Failure(domain.NewError(domain.KindNotFound, "tool %q is not registered", toolID))
		e.Stamp(resp, toolID, start)
		return resp
	}
	meta := tool.Metadata()

	if err := tool.Validate(cc.Args); err != nil {
		resp := domain.Failure(validationFailure(toolID, err))
		e.Stamp(resp, toolID, start)
		e.logger.Debug("Arguments rejected", "tool_id", toolID, "error", err)
		return resp
	}

	ec := &domain.ExecContext{
		Args:         cc.Args,
		Session:      cc.Session,
		Capabilities: cc.Capabilities.Clone(),
		Tool:         meta,
		Turn:         cc.Turn,
	}

	e.hooks.start(ctx, ToolEvent{ToolID: toolID, Turn: cc.Turn, Timestamp: start})
	resp := e.invoke(ctx, tool.Handler(), ec)
	e.Stamp(resp, toolID, start)
	e.hooks.end(ctx, ToolEvent{ToolID: toolID, Turn: cc.Turn, Timestamp: e.now(), Response: resp})

	if !resp.OK {
		e.logger.Debug("Tool failed", "tool_id", toolID, "type", resp.Error.Type, "retryable", resp.Error.Retryable)
	}
	return resp
}

// invoke calls the handler and normalizes whatever it produced into a valid envelope.
func (e *Engine) invoke(ctx context.Context, h domain.Handler, ec *domain.ExecContext) (resp *domain.ToolResponse) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Handler panicked", "tool_id", ec.Tool.ToolID, "panic", r)
			resp = domain.Failure(domain.Unexpected(fmt.Errorf("handler panic: %v", r)))
		}
	}()

	out, err := h(ctx, ec)
	if err != nil {
		return domain.Failure(normalizeError(ctx, err))
	}
	if verr := out.Validate(); verr != nil {
		e.logger.Error("Malformed handler response", "tool_id", ec.Tool.ToolID, "error", verr)
		return domain.Failure(domain.NewError(domain.KindInternal, "tool returned a malformed response: %v", verr))
	}
	return out.Clone()
}

func normalizeError(ctx context.Context, err error) *domain.ToolError {
	var te *domain.ToolError
	if errors.As(err, &te) && te.Type.Valid() {
		return te.Clone()
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// The handler may have been mid-write; the outcome is unknown.
		e := domain.NewError(domain.KindTransient, "call abandoned: %v", err)
		e.Retryable = false
		e.PartialSideEffects = true
		return e
	}
	return domain.Unexpected(err)
}

func validationFailure(toolID string, err error) *domain.ToolError {
	fields := schema.FieldMessages(err)
	msg := err.Error()
	if errs := schema.ValidationErrors(err); len(errs) > 0 {
		parts := make([]string, len(errs))
		for i, fe := range errs {
			parts[i] = fe.Error()
		}
		msg = strings.Join(parts, "; ")
	}
	te := domain.NewError(domain.KindValidation, "invalid arguments for %s: %s", toolID, msg)
	if len(fields) > 0 {
		te.Details = map[string]any{"fields": fields}
	}
	return te
}

// Stamp overwrites resp.Meta with the identity of toolID and the elapsed time since start.
func (e *Engine) Stamp(resp *domain.ToolResponse, toolID string, start time.Time) {
	resp.Meta = domain.Meta{
		ToolID:                toolID,
		RegistryVersion:       e.registry.Version(),
		DurationMs:            e.now().Sub(start).Milliseconds(),
		ResponseSchemaVersion: domain.ResponseSchemaVersion,
	}
	if tool, ok := e.registry.Lookup(toolID); ok {
		resp.Meta.ToolVersion = tool.Metadata().Version
	}
}
