package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/aretw0/toolgate/pkg/schema"
	"golang.org/x/mod/semver"
)

// requiredKeys must appear in every definition. Documentation may come from README.md instead.
var requiredKeys = []string{
	"toolId",
	"version",
	"category",
	"sideEffects",
	"idempotent",
	"requiresConfirmation",
	"allowedModes",
	"latencyBudgetMs",
	"parameters",
}

var toolIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// checked is the outcome of running rules a-g on one tool.
type checked struct {
	def     *domain.ToolDefinition
	summary string
}

// checker runs the per-tool rules and collects violations.
type checker struct {
	src        *Source
	toolID     string
	violations []Violation
}

func (c *checker) add(rule Rule, format string, args ...any) {
	c.violations = append(c.violations, Violation{
		ToolID:  c.toolID,
		Path:    c.src.Path,
		Rule:    rule,
		Message: fmt.Sprintf(format, args...),
	})
}

// check applies rules a-g in order. Rule (a) and decoding failures stop the
// remaining rules for this tool; every other rule reports independently.
func check(p *Parser, src *Source, resolver registry.Resolver) (*checked, []Violation) {
	c := &checker{src: src}
	if id, ok := src.Raw["toolId"].(string); ok {
		c.toolID = id
	}

	// (a)
	for _, key := range requiredKeys {
		if v, ok := src.Raw[key]; !ok || v == nil {
			c.add(RuleRequired, "missing required key %q", key)
		}
	}
	if _, ok := src.Raw["documentation"]; !ok && strings.TrimSpace(src.Documentation) == "" {
		c.add(RuleRequired, "missing documentation: add a %s or a documentation key", DocumentationFile)
	}
	if len(c.violations) > 0 {
		return nil, c.violations
	}

	def, err := p.Decode(src)
	if err != nil {
		c.add(RuleParse, "%v", err)
		return nil, c.violations
	}

	// (b)
	if !def.Category.Valid() {
		c.add(RuleClosedSet, "category %q is not one of retrieval, action, utility", def.Category)
	}
	if !def.SideEffects.Valid() {
		c.add(RuleClosedSet, "sideEffects %q is not one of none, read_only, writes", def.SideEffects)
	}
	if len(def.AllowedModes) == 0 {
		c.add(RuleClosedSet, "allowedModes must list at least one mode")
	}
	seen := make(map[string]bool)
	for _, m := range def.AllowedModes {
		if !domain.ValidMode(m) {
			c.add(RuleClosedSet, "allowedModes entry %q is not one of realtime, interactive, background", m)
		}
		if seen[m] {
			c.add(RuleClosedSet, "allowedModes lists %q twice", m)
		}
		seen[m] = true
	}
	if !semver.IsValid("v" + def.Version) {
		c.add(RuleClosedSet, "version %q is not a semantic version", def.Version)
	}
	if def.LatencyBudgetMs <= 0 {
		c.add(RuleClosedSet, "latencyBudgetMs must be positive, got %d", def.LatencyBudgetMs)
	}

	// (c)
	if def.Category == domain.CategoryRetrieval {
		if !def.Idempotent {
			c.add(RuleCategory, "retrieval tools must be idempotent")
		}
		if def.SideEffects == domain.SideEffectsWrites {
			c.add(RuleCategory, "retrieval tools must not declare sideEffects=writes")
		}
	}

	// (d)
	if err := schema.CheckStrictObject(def.Parameters); err != nil {
		c.add(RuleSchema, "%v", err)
	} else if _, err := schema.CompileMap(def.ToolID, def.Parameters); err != nil {
		c.add(RuleSchema, "parameters is not a valid JSON Schema: %v", err)
	}

	// (e)
	summary := ExtractSummary(def.Documentation)
	if summary == "" {
		c.add(RuleSummary, "documentation has no extractable summary line")
	}

	// (f)
	if want := strings.ReplaceAll(src.Name, "-", "_"); def.ToolID != want {
		c.add(RuleToolID, "toolId %q does not match directory %q (expected %q)", def.ToolID, src.Name, want)
	}
	if !toolIDPattern.MatchString(def.ToolID) {
		c.add(RuleToolID, "toolId %q must be lowercase snake_case starting with a letter", def.ToolID)
	}

	// (g)
	ref := def.HandlerRef
	if ref == "" {
		ref = def.ToolID
	}
	if resolver == nil {
		c.add(RuleHandler, "no handler catalog configured to resolve %q", ref)
	} else if _, err := resolver.Resolve(ref); err != nil {
		c.add(RuleHandler, "%v", err)
	}

	if len(c.violations) > 0 {
		return nil, c.violations
	}
	return &checked{def: def, summary: summary}, nil
}
