package toolgate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/internal/runtime"
	"github.com/aretw0/toolgate/pkg/dedup"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/loopguard"
	"github.com/aretw0/toolgate/pkg/metrics"
	"github.com/aretw0/toolgate/pkg/ports"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/aretw0/toolgate/pkg/retry"
	"github.com/aretw0/toolgate/pkg/session"
	"github.com/aretw0/toolgate/pkg/state"
)

// Runtime is the high-level entry point of the library.
// It owns the registry, the execution engine, the session manager and the
// metrics collector, and exposes the orchestrator-facing API.
type Runtime struct {
	registry   *registry.Registry
	engine     *runtime.Engine
	sessions   *session.Manager
	metrics    *metrics.Collector
	dispatcher *Dispatcher
	logger     *slog.Logger
}

type settings struct {
	logger       *slog.Logger
	store        ports.SnapshotStore
	locker       ports.DistributedLocker
	policy       retry.Policy
	retryOpts    []retry.Option
	dedup        dedup.Config
	dedupOpts    []dedup.Option
	loop         loopguard.Config
	hooks        runtime.Hooks
	metrics      *metrics.Collector
	dispatchOpts []DispatcherOption
}

// Option configures the Runtime.
type Option func(*settings)

// WithLogger sets a structured logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithStore snapshots ended sessions and resumes them on Start.
func WithStore(store ports.SnapshotStore) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithLocker serializes sessions across processes.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(s *settings) {
		s.locker = locker
	}
}

// WithRetryPolicy replaces retry.DefaultPolicy.
func WithRetryPolicy(p retry.Policy, opts ...retry.Option) Option {
	return func(s *settings) {
		s.policy = p
		s.retryOpts = opts
	}
}

// WithDedup configures the duplicate-call detector of every session.
func WithDedup(cfg dedup.Config, opts ...dedup.Option) Option {
	return func(s *settings) {
		s.dedup = cfg
		s.dedupOpts = opts
	}
}

// WithLoopGuard configures the loop detector of every session.
func WithLoopGuard(cfg loopguard.Config) Option {
	return func(s *settings) {
		s.loop = cfg
	}
}

// WithHooks registers callbacks around handler invocation.
func WithHooks(h runtime.Hooks) Option {
	return func(s *settings) {
		s.hooks = h
	}
}

// WithMetrics shares an existing collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *settings) {
		s.metrics = c
	}
}

// WithDispatch passes options to the Dispatcher.
func WithDispatch(opts ...DispatcherOption) Option {
	return func(s *settings) {
		s.dispatchOpts = append(s.dispatchOpts, opts...)
	}
}

// New creates a Runtime that binds handlers through resolver.
// Load and Lock must be called before sessions can start.
func New(resolver registry.Resolver, opts ...Option) *Runtime {
	s := &settings{
		logger: logging.NewNop(),
		policy: retry.DefaultPolicy(),
		dedup:  dedup.DefaultConfig(),
		loop:   loopguard.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(metrics.WithLogger(s.logger))
	}

	reg := registry.New(resolver, registry.WithLogger(s.logger))
	engine := runtime.NewEngine(reg, runtime.WithLogger(s.logger), runtime.WithHooks(s.hooks))

	sessOpts := []session.Option{
		session.WithLogger(s.logger),
		session.WithDedup(s.dedup, s.dedupOpts...),
		session.WithLoopGuard(s.loop),
	}
	if s.store != nil {
		sessOpts = append(sessOpts, session.WithStore(s.store))
	}
	if s.locker != nil {
		sessOpts = append(sessOpts, session.WithLocker(s.locker))
	}
	sessions := session.NewManager(reg, sessOpts...)

	rh := retry.New(s.policy, append([]retry.Option{retry.WithLogger(s.logger)}, s.retryOpts...)...)
	dispatchOpts := append([]DispatcherOption{WithDispatcherLogger(s.logger)}, s.dispatchOpts...)

	return &Runtime{
		registry:   reg,
		engine:     engine,
		sessions:   sessions,
		metrics:    s.metrics,
		dispatcher: NewDispatcher(engine, sessions, rh, s.metrics, dispatchOpts...),
		logger:     s.logger,
	}
}

// Load reads exactly one artifact. Either every tool loads or none does.
func (r *Runtime) Load(ctx context.Context, path string) error {
	return r.registry.Load(ctx, path)
}

// LoadArtifact loads an artifact already in memory.
func (r *Runtime) LoadArtifact(ctx context.Context, a *domain.Artifact) error {
	return r.registry.LoadArtifact(ctx, a)
}

// Lock freezes the registry. Sessions pin the returned snapshot.
func (r *Runtime) Lock() (registry.Snapshot, error) {
	return r.registry.Lock()
}

// Version returns the registry version.
func (r *Runtime) Version() string {
	return r.registry.Version()
}

// ProviderSchemas returns the precomputed tool declarations for provider.
func (r *Runtime) ProviderSchemas(provider string) ([]json.RawMessage, error) {
	return r.registry.ProviderSchemas(provider)
}

// Summaries returns the one-line summary of every tool, for prompt injection.
func (r *Runtime) Summaries() string {
	return r.registry.Summaries()
}

// Documentation returns the full documentation of one tool.
func (r *Runtime) Documentation(toolID string) (string, error) {
	return r.registry.Documentation(toolID)
}

// ToolMetadata returns the orchestration metadata of one tool.
func (r *Runtime) ToolMetadata(toolID string) (domain.ToolMetadata, error) {
	return r.registry.Metadata(toolID)
}

// StartSession creates or resumes a session.
func (r *Runtime) StartSession(ctx context.Context, sessionID string, initial map[string]any) error {
	if _, err := r.sessions.Start(ctx, sessionID, initial); err != nil {
		return err
	}
	r.metrics.StartSession(sessionID)
	return nil
}

// StartTurn advances a session to its next turn. Per-turn budgets and loop counts reset.
func (r *Runtime) StartTurn(ctx context.Context, sessionID string) (int, error) {
	turn, err := r.sessions.StartTurn(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	r.metrics.StartNewTurn(sessionID)
	return turn, nil
}

// SessionReport is what remains of a session after it ends.
type SessionReport struct {
	SessionID string                `json:"sessionId"`
	State     state.Snapshot        `json:"state"`
	Trace     *metrics.SessionTrace `json:"trace,omitempty"`
}

// EndSession stops a session. Pending retries are cancelled and results of
// calls still in flight are discarded.
func (r *Runtime) EndSession(ctx context.Context, sessionID string) (*SessionReport, error) {
	snap, err := r.sessions.End(ctx, sessionID)
	trace := r.metrics.EndSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	return &SessionReport{SessionID: sessionID, State: snap, Trace: trace}, nil
}

// Session returns the state view of a live session.
func (r *Runtime) Session(sessionID string) (domain.SessionView, error) {
	s, err := r.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Ended() {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return s.State.View(), nil
}

// TakePendingMessage consumes the message a tool queued for the next turn.
func (r *Runtime) TakePendingMessage(sessionID string) (string, bool) {
	s, err := r.sessions.Get(sessionID)
	if err != nil {
		return "", false
	}
	return s.State.TakePendingMessage()
}

// PendingEnd reports whether a tool asked to end the session, and when.
func (r *Runtime) PendingEnd(sessionID string) (domain.PendingEnd, bool) {
	s, err := r.sessions.Get(sessionID)
	if err != nil {
		return domain.PendingEnd{}, false
	}
	return s.State.PendingEnd()
}

// ExecuteTool runs one call through the full pipeline.
func (r *Runtime) ExecuteTool(ctx context.Context, sessionID string, call Call) *domain.ToolResponse {
	return r.dispatcher.Call(ctx, sessionID, call)
}

// Registry returns the underlying registry.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Metrics returns the collector.
func (r *Runtime) Metrics() *metrics.Collector {
	return r.metrics
}

// Dispatcher returns the per-call pipeline.
func (r *Runtime) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Close ends every live session.
func (r *Runtime) Close(ctx context.Context) error {
	for _, id := range r.sessions.Sessions() {
		if _, err := r.EndSession(ctx, id); err != nil {
			r.logger.Warn("Failed to end session on close", "session_id", id, "err", err)
		}
	}
	return r.sessions.Close(ctx)
}
