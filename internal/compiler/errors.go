package compiler

import (
	"fmt"
	"strings"
)

// Rule labels the check that produced a Violation.
type Rule string

const (
	RuleParse      Rule = "parse"
	RuleRequired   Rule = "required"    // (a)
	RuleClosedSet  Rule = "closed_set"  // (b)
	RuleCategory   Rule = "category"    // (c)
	RuleSchema     Rule = "schema"      // (d)
	RuleSummary    Rule = "summary"     // (e)
	RuleToolID     Rule = "tool_id"     // (f)
	RuleHandler    Rule = "handler"     // (g)
	RuleDuplicate  Rule = "duplicate"
	RuleProjection Rule = "projection"
)

// Violation is one reason a tool definition was rejected.
type Violation struct {
	ToolID  string `json:"toolId,omitempty"`
	Path    string `json:"path"`
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	id := v.ToolID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("%s [%s] %s: %s", v.Path, id, v.Rule, v.Message)
}

// BuildError aggregates every violation found in a definitions directory.
// A build that returns it has written nothing.
type BuildError struct {
	Violations []Violation
}

func (e *BuildError) Error() string {
	if len(e.Violations) == 1 {
		return "build failed: " + e.Violations[0].String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "build failed with %d violations:\n", len(e.Violations))
	for i, v := range e.Violations {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, v)
	}
	return b.String()
}

// Rules returns the distinct rules that failed, in order of first appearance.
func (e *BuildError) Rules() []Rule {
	seen := make(map[Rule]bool)
	var out []Rule
	for _, v := range e.Violations {
		if !seen[v.Rule] {
			seen[v.Rule] = true
			out = append(out, v.Rule)
		}
	}
	return out
}
