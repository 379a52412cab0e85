package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/schema"
)

// Tool is a loaded record with its compiled validator and bound handler.
type Tool struct {
	Record    domain.ToolRecord
	validator *schema.Validator
	handler   domain.Handler
}

// Metadata returns the orchestration metadata of the tool.
func (t *Tool) Metadata() domain.ToolMetadata {
	return t.Record.ToolMetadata
}

// Validate checks call arguments against the tool's schema.
func (t *Tool) Validate(args map[string]any) error {
	return t.validator.Validate(args)
}

// Handler returns the bound handler.
func (t *Tool) Handler() domain.Handler {
	return t.handler
}

// Snapshot is the immutable identity of a locked registry. Sessions pin it at creation.
type Snapshot struct {
	Version  string   `json:"version"`
	Revision string   `json:"revision,omitempty"`
	ToolIDs  []string `json:"toolIds"`
}

// Contains reports whether id was part of the snapshot.
func (s Snapshot) Contains(id string) bool {
	for _, t := range s.ToolIDs {
		if t == id {
			return true
		}
	}
	return false
}

// contents is swapped atomically so readers never take a lock.
type contents struct {
	artifact *domain.Artifact
	tools    map[string]*Tool
	order    []string
}

// Registry holds the tools of exactly one artifact.
type Registry struct {
	mu       sync.Mutex // serializes Load, Reload and Lock
	current  atomic.Pointer[contents]
	locked   atomic.Bool
	resolver Resolver
	logger   *slog.Logger
}

// Option configures the Registry.
type Option func(*Registry)

// WithLogger configures a logger for the Registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry that binds handlers through resolver.
func New(resolver Resolver, opts ...Option) *Registry {
	r := &Registry{
		resolver: resolver,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadArtifact decodes an artifact file.
func ReadArtifact(path string) (*domain.Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	var a domain.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}
	return &a, nil
}

// Load reads exactly one artifact from path.
func (r *Registry) Load(ctx context.Context, path string) error {
	a, err := ReadArtifact(path)
	if err != nil {
		return err
	}
	return r.LoadArtifact(ctx, a)
}

// LoadArtifact compiles validators and binds handlers for every tool.
// Either every tool loads or the registry stays empty.
func (r *Registry) LoadArtifact(ctx context.Context, a *domain.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked.Load() {
		return domain.ErrRegistryLocked
	}
	if r.current.Load() != nil {
		return domain.ErrRegistryLoaded
	}
	c, err := r.build(ctx, a)
	if err != nil {
		return err
	}
	r.current.Store(c)
	r.logger.Info("Registry loaded", "version", a.Version, "tools", len(c.order))
	return nil
}

// Reload replaces the loaded artifact. It is a development aid and fails once locked.
func (r *Registry) Reload(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked.Load() {
		return domain.ErrRegistryLocked
	}
	a, err := ReadArtifact(path)
	if err != nil {
		return err
	}
	c, err := r.build(ctx, a)
	if err != nil {
		return err
	}
	r.current.Store(c)
	r.logger.Info("Registry reloaded", "version", a.Version, "tools", len(c.order))
	return nil
}

func (r *Registry) build(ctx context.Context, a *domain.Artifact) (*contents, error) {
	if a == nil {
		return nil, errors.New("artifact is nil")
	}
	if a.Version == "" {
		return nil, errors.New("artifact has no version")
	}
	if r.resolver == nil {
		return nil, fmt.Errorf("%w: no resolver configured", domain.ErrHandlerUnresolved)
	}

	c := &contents{
		artifact: a,
		tools:    make(map[string]*Tool, len(a.Tools)),
		order:    make([]string, 0, len(a.Tools)),
	}
	var errs []error
	for _, rec := range a.Tools {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, dup := c.tools[rec.ToolID]; dup {
			errs = append(errs, fmt.Errorf("tool %s: duplicate id", rec.ToolID))
			continue
		}
		v, err := schema.Compile(rec.ToolID, rec.JSONSchema)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %s: %w", rec.ToolID, err))
			continue
		}
		h, err := r.resolver.Resolve(rec.HandlerRef)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %s: %w", rec.ToolID, err))
			continue
		}
		c.tools[rec.ToolID] = &Tool{Record: rec, validator: v, handler: h}
		c.order = append(c.order, rec.ToolID)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load registry: %w", errors.Join(errs...))
	}
	return c, nil
}

// Lock freezes the registry and returns its snapshot. Locking twice returns the same snapshot.
func (r *Registry) Lock() (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.current.Load()
	if c == nil {
		return Snapshot{}, domain.ErrRegistryNotLoaded
	}
	r.locked.Store(true)
	return c.snapshot(), nil
}

// Locked reports whether Lock has been called.
func (r *Registry) Locked() bool {
	return r.locked.Load()
}

// Snapshot returns the current identity. ok is false before Load.
func (r *Registry) Snapshot() (Snapshot, bool) {
	c := r.current.Load()
	if c == nil {
		return Snapshot{}, false
	}
	return c.snapshot(), true
}

func (c *contents) snapshot() Snapshot {
	return Snapshot{
		Version:  c.artifact.Version,
		Revision: c.artifact.Revision,
		ToolIDs:  append([]string(nil), c.order...),
	}
}

// Lookup returns a loaded tool.
func (r *Registry) Lookup(id string) (*Tool, bool) {
	c := r.current.Load()
	if c == nil {
		return nil, false
	}
	t, ok := c.tools[id]
	return t, ok
}

// ToolIDs lists tools in artifact order.
func (r *Registry) ToolIDs() []string {
	c := r.current.Load()
	if c == nil {
		return nil
	}
	return append([]string(nil), c.order...)
}

// Version returns the artifact version, or "" before Load.
func (r *Registry) Version() string {
	if c := r.current.Load(); c != nil {
		return c.artifact.Version
	}
	return ""
}

// Revision returns the source revision embedded at build time.
func (r *Registry) Revision() string {
	if c := r.current.Load(); c != nil {
		return c.artifact.Revision
	}
	return ""
}

// ProviderSchemas returns the precompiled projections for provider, in artifact order.
func (r *Registry) ProviderSchemas(provider string) ([]json.RawMessage, error) {
	c := r.current.Load()
	if c == nil {
		return nil, domain.ErrRegistryNotLoaded
	}
	out := make([]json.RawMessage, 0, len(c.order))
	for _, id := range c.order {
		p, ok := c.tools[id].Record.ProviderSchemas[provider]
		if !ok {
			return nil, fmt.Errorf("%w: %q (tool %s)", domain.ErrUnknownProvider, provider, id)
		}
		out = append(out, p)
	}
	return out, nil
}

// Providers lists the projection targets present on every tool.
func (r *Registry) Providers() []string {
	c := r.current.Load()
	if c == nil || len(c.order) == 0 {
		return nil
	}
	var out []string
	for name := range c.tools[c.order[0]].Record.ProviderSchemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Summaries renders one "- tool_id: summary" line per tool for prompt injection.
func (r *Registry) Summaries() string {
	c := r.current.Load()
	if c == nil {
		return ""
	}
	var b strings.Builder
	for i, id := range c.order {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", id, c.tools[id].Record.Summary)
	}
	return b.String()
}

// Documentation returns the full documentation of a tool.
func (r *Registry) Documentation(id string) (string, error) {
	t, ok := r.Lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}
	return t.Record.Documentation, nil
}

// Metadata returns the orchestration metadata of a tool.
func (r *Registry) Metadata(id string) (domain.ToolMetadata, error) {
	t, ok := r.Lookup(id)
	if !ok {
		return domain.ToolMetadata{}, fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}
	return t.Metadata(), nil
}
