package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aretw0/toolgate/internal/compiler/projection"
	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/registry"
)

// DefaultMajor is the major component of the registry version.
const DefaultMajor = 1

// Compiler turns a definitions directory into a registry artifact.
type Compiler struct {
	parser     *Parser
	resolver   registry.Resolver
	projectors []projection.Projector
	major      int
	revision   string
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures the Compiler.
type Option func(*Compiler)

// WithLogger configures a logger for the Compiler.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// WithProjectors replaces the default provider projections.
func WithProjectors(p ...projection.Projector) Option {
	return func(c *Compiler) {
		c.projectors = p
	}
}

// WithMajor sets the major version component.
func WithMajor(major int) Option {
	return func(c *Compiler) {
		c.major = major
	}
}

// WithRevision embeds a source-control revision for audit. It never affects the version.
func WithRevision(rev string) Option {
	return func(c *Compiler) {
		c.revision = rev
	}
}

// WithClock overrides the build timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) {
		c.now = now
	}
}

// New creates a compiler that checks handler references against resolver.
func New(resolver registry.Resolver, opts ...Option) *Compiler {
	c := &Compiler{
		parser:   NewParser(),
		resolver: resolver,
		major:    DefaultMajor,
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, name := range projection.Default() {
		p, _ := projection.Lookup(name)
		c.projectors = append(c.projectors, p)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile checks every tool under dir and returns the artifact.
// Any violation aborts the whole build with a *BuildError listing all of them.
func (c *Compiler) Compile(ctx context.Context, dir string) (*domain.Artifact, error) {
	dirs, err := c.parser.Scan(dir)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, &BuildError{Violations: []Violation{{
			Path: dir, Rule: RuleRequired, Message: "no tool definitions found",
		}}}
	}

	var (
		violations []Violation
		records    []domain.ToolRecord
		owners     = make(map[string]string)
	)
	for _, toolDir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := c.parser.Parse(toolDir)
		if err != nil {
			violations = append(violations, Violation{Path: src.Path, Rule: RuleParse, Message: err.Error()})
			continue
		}
		ok, vs := check(c.parser, src, c.resolver)
		violations = append(violations, vs...)
		if ok == nil {
			continue
		}

		id := ok.def.ToolID
		if prev, dup := owners[id]; dup {
			violations = append(violations, Violation{
				ToolID: id, Path: src.Path, Rule: RuleDuplicate,
				Message: fmt.Sprintf("toolId already defined by %s", prev),
			})
			continue
		}
		owners[id] = src.Path

		rec, vs := c.record(src, ok)
		violations = append(violations, vs...)
		if rec != nil {
			records = append(records, *rec)
		}
		c.logger.Debug("Tool checked", "tool_id", id, "path", src.Path)
	}

	if len(violations) > 0 {
		return nil, &BuildError{Violations: violations}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ToolID < records[j].ToolID })
	version, err := Version(c.major, records)
	if err != nil {
		return nil, err
	}
	return &domain.Artifact{
		Version:        version,
		Revision:       c.revision,
		BuildTimestamp: c.now().UTC(),
		Tools:          records,
	}, nil
}

// record serializes the canonical schema and computes every provider projection.
func (c *Compiler) record(src *Source, ok *checked) (*domain.ToolRecord, []Violation) {
	def := ok.def
	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return nil, []Violation{{ToolID: def.ToolID, Path: src.Path, Rule: RuleSchema, Message: err.Error()}}
	}

	rec := &domain.ToolRecord{
		ToolMetadata:    def.ToolMetadata,
		JSONSchema:      raw,
		ProviderSchemas: make(map[string]json.RawMessage, len(c.projectors)),
		Summary:         ok.summary,
		Documentation:   def.Documentation,
		HandlerRef:      def.HandlerRef,
	}
	if rec.HandlerRef == "" {
		rec.HandlerRef = def.ToolID
	}

	var violations []Violation
	pt := projection.Tool{Name: def.ToolID, Description: ok.summary, Schema: def.Parameters}
	for _, p := range c.projectors {
		out, err := p.Project(pt)
		if err != nil {
			violations = append(violations, Violation{
				ToolID: def.ToolID, Path: src.Path, Rule: RuleProjection,
				Message: fmt.Sprintf("%s: %v", p.Name(), err),
			})
			continue
		}
		rec.ProviderSchemas[p.Name()] = out
	}
	if len(violations) > 0 {
		return nil, violations
	}
	return rec, nil
}

// Build compiles dir and writes the artifact to out. Nothing is written on failure.
func (c *Compiler) Build(ctx context.Context, dir, out string) (*domain.Artifact, error) {
	a, err := c.Compile(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := WriteArtifact(out, a); err != nil {
		return nil, err
	}
	c.logger.Info("Artifact written", "path", out, "version", a.Version, "tools", len(a.Tools))
	return a, nil
}

// WriteArtifact atomically replaces path with the JSON encoding of a.
func WriteArtifact(path string, a *domain.Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set artifact permissions: %w", err)
	}

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace artifact: %w", err)
	}
	return nil
}
