package compiler_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/toolgate/internal/compiler"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchYAML = `toolId: search_docs
version: 1.2.0
category: retrieval
sideEffects: read_only
idempotent: true
requiresConfirmation: false
allowedModes: [realtime, interactive]
latencyBudgetMs: 800
parameters:
  type: object
  additionalProperties: false
  required: [query]
  properties:
    query:
      type: string
      description: Free text query
    filters:
      type: object
      additionalProperties: false
      properties:
        tags:
          type: array
          items:
            type: string
            enum: [faq, policy]
`

const searchDoc = "# Search docs\n\nSearch the **knowledge base** for articles.\n\nLonger text.\n"

const ticketYAML = `toolId: create_ticket
version: 0.3.1
category: action
sideEffects: writes
idempotent: false
requiresConfirmation: true
allowedModes: [interactive, background]
latencyBudgetMs: 2000
handlerRef: tickets.create
documentation: Open a support ticket for the caller.
parameters:
  type: object
  additionalProperties: false
  required: [title]
  properties:
    title: {type: string}
    priority: {type: integer, minimum: 1, maximum: 5}
`

func nop(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
	return domain.Success(nil), nil
}

func catalog() registry.Catalog {
	return registry.Catalog{
		"search_docs":    nop,
		"tickets.create": nop,
	}
}

func writeTool(t *testing.T, root, dir, def, doc string) {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, compiler.DefinitionFile), []byte(def), 0644))
	if doc != "" {
		require.NoError(t, os.WriteFile(filepath.Join(path, compiler.DocumentationFile), []byte(doc), 0644))
	}
}

func validTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTool(t, root, "search-docs", searchYAML, searchDoc)
	writeTool(t, root, "create_ticket", ticketYAML, "")
	return root
}

func fixedClock() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestCompile_ValidTree(t *testing.T) {
	root := validTree(t)
	c := compiler.New(catalog(), compiler.WithMajor(3), compiler.WithRevision("abc123"), compiler.WithClock(fixedClock))

	a, err := c.Compile(context.Background(), root)
	require.NoError(t, err)

	assert.Regexp(t, `^3\.[0-9a-f]{16}$`, a.Version)
	assert.Equal(t, "abc123", a.Revision)
	assert.Equal(t, fixedClock(), a.BuildTimestamp)
	require.Len(t, a.Tools, 2)

	ticket, search := a.Tools[0], a.Tools[1]
	assert.Equal(t, "create_ticket", ticket.ToolID)
	assert.Equal(t, "tickets.create", ticket.HandlerRef)
	assert.True(t, ticket.RequiresConfirmation)
	assert.Equal(t, "Open a support ticket for the caller.", ticket.Summary)

	assert.Equal(t, "search_docs", search.ToolID)
	assert.Equal(t, "search_docs", search.HandlerRef, "handlerRef defaults to the tool id")
	assert.Equal(t, "Search the knowledge base for articles.", search.Summary)
	assert.Equal(t, searchDoc, search.Documentation)
	assert.Equal(t, int64(800), search.LatencyBudgetMs)

	assert.ElementsMatch(t, []string{"anthropic", "gemini", "openai"}, keys(search.ProviderSchemas))

	var gemini map[string]any
	require.NoError(t, json.Unmarshal(search.ProviderSchemas["gemini"], &gemini))
	params := gemini["parameters"].(map[string]any)
	assert.Equal(t, "OBJECT", params["type"])
	filters := params["properties"].(map[string]any)["filters"].(map[string]any)
	tags := filters["properties"].(map[string]any)["tags"].(map[string]any)
	assert.Equal(t, "ARRAY", tags["type"])
	assert.Equal(t, []any{"faq", "policy"}, tags["items"].(map[string]any)["enum"])
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestCompile_VersionIsDeterministic(t *testing.T) {
	root := validTree(t)

	first, err := compiler.New(catalog(), compiler.WithRevision("one")).Compile(context.Background(), root)
	require.NoError(t, err)
	second, err := compiler.New(catalog(), compiler.WithRevision("two")).Compile(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version, "revision and timestamp do not participate")

	writeTool(t, root, "search-docs", searchYAML, "Search the archive instead.")
	third, err := compiler.New(catalog()).Compile(context.Background(), root)
	require.NoError(t, err)
	assert.NotEqual(t, first.Version, third.Version, "summary changes bump the version")
}

func TestCompile_AggregatesViolations(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "search-docs", searchYAML, searchDoc)
	writeTool(t, root, "missing", "toolId: missing\nversion: 1.0.0\n", "")
	writeTool(t, root, "bad_sets", `toolId: bad_sets
version: latest
category: lookup
sideEffects: sometimes
idempotent: true
requiresConfirmation: false
allowedModes: [voice]
latencyBudgetMs: 0
documentation: Does things.
parameters: {type: object, additionalProperties: false}
`, "")
	writeTool(t, root, "writer", `toolId: writer
version: 1.0.0
category: retrieval
sideEffects: writes
idempotent: false
requiresConfirmation: false
allowedModes: [interactive]
latencyBudgetMs: 100
documentation: Writes while pretending to read.
parameters: {type: object, properties: {}}
`, "")
	writeTool(t, root, "renamed", `toolId: other_name
version: 1.0.0
category: utility
sideEffects: none
idempotent: true
requiresConfirmation: false
allowedModes: [interactive]
latencyBudgetMs: 100
documentation: "# Only a heading"
parameters: {type: object, additionalProperties: false}
`, "")

	_, err := compiler.New(catalog()).Compile(context.Background(), root)
	var be *compiler.BuildError
	require.True(t, errors.As(err, &be), "got %v", err)

	byTool := map[string][]compiler.Rule{}
	for _, v := range be.Violations {
		key := filepath.Base(filepath.Dir(v.Path))
		byTool[key] = append(byTool[key], v.Rule)
	}

	assert.NotContains(t, byTool, "search-docs")
	require.Len(t, byTool["missing"], 8)
	for _, r := range byTool["missing"] {
		assert.Equal(t, compiler.RuleRequired, r, "missing keys stop the remaining checks")
	}
	assert.Equal(t, []compiler.Rule{
		compiler.RuleClosedSet, compiler.RuleClosedSet, compiler.RuleClosedSet,
		compiler.RuleClosedSet, compiler.RuleClosedSet, compiler.RuleHandler,
	}, byTool["bad_sets"])
	assert.Equal(t, []compiler.Rule{
		compiler.RuleCategory, compiler.RuleCategory, compiler.RuleSchema, compiler.RuleHandler,
	}, byTool["writer"])
	assert.Equal(t, []compiler.Rule{
		compiler.RuleSummary, compiler.RuleToolID, compiler.RuleHandler,
	}, byTool["renamed"])
}

func TestCompile_UnknownKeysRejected(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "search_docs", searchYAML+"colour: blue\n", searchDoc)

	_, err := compiler.New(catalog()).Compile(context.Background(), root)
	var be *compiler.BuildError
	require.ErrorAs(t, err, &be)
	require.Len(t, be.Violations, 1)
	assert.Equal(t, compiler.RuleParse, be.Violations[0].Rule)
	assert.Contains(t, be.Violations[0].Message, "colour")
}

func TestCompile_ConfirmationFlagRequired(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "search_docs", strings.Replace(searchYAML, "requiresConfirmation: false\n", "", 1), searchDoc)

	_, err := compiler.New(catalog()).Compile(context.Background(), root)
	var be *compiler.BuildError
	require.ErrorAs(t, err, &be)
	require.Len(t, be.Violations, 1)
	assert.Equal(t, compiler.RuleRequired, be.Violations[0].Rule)
	assert.Contains(t, be.Violations[0].Message, "requiresConfirmation")
}

func TestCompile_DuplicateToolID(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "search-docs", searchYAML, searchDoc)
	writeTool(t, root, "search_docs", searchYAML, searchDoc)

	_, err := compiler.New(catalog()).Compile(context.Background(), root)
	var be *compiler.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []compiler.Rule{compiler.RuleDuplicate}, be.Rules())
}

func TestCompile_HandlerSignature(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "search-docs", searchYAML, searchDoc)

	cat := registry.Catalog{"search_docs": func(ctx context.Context) error { return nil }}
	_, err := compiler.New(cat).Compile(context.Background(), root)
	var be *compiler.BuildError
	require.ErrorAs(t, err, &be)
	require.Len(t, be.Violations, 1)
	assert.Equal(t, compiler.RuleHandler, be.Violations[0].Rule)
	assert.Contains(t, be.Violations[0].Message, "arity")
}

func TestCompile_EmptyDirectory(t *testing.T) {
	_, err := compiler.New(catalog()).Compile(context.Background(), t.TempDir())
	var be *compiler.BuildError
	assert.ErrorAs(t, err, &be)
}

func TestCompile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := compiler.New(catalog()).Compile(ctx, validTree(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_WritesNothingOnFailure(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "broken", "toolId: [unclosed", "")
	out := filepath.Join(t.TempDir(), "registry.json")

	_, err := compiler.New(catalog()).Build(context.Background(), root, out)
	require.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuild_LoadsIntoRegistry(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dist", "registry.json")
	a, err := compiler.New(catalog()).Build(context.Background(), validTree(t), out)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")

	reg := registry.New(catalog())
	require.NoError(t, reg.Load(context.Background(), out))
	assert.Equal(t, a.Version, reg.Version())
	assert.Equal(t, []string{"create_ticket", "search_docs"}, reg.ToolIDs())
}
