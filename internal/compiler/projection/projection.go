// Package projection translates canonical JSON Schemas into provider-native
// tool declarations. Projections run once at build time; the runtime only
// serves the stored results.
package projection

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Tool is the provider-independent input of a projection.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Projector renders one tool for one provider.
type Projector interface {
	Name() string
	Project(t Tool) (json.RawMessage, error)
}

var projectors = map[string]Projector{}

func register(p Projector) {
	projectors[p.Name()] = p
}

func init() {
	register(Gemini{})
	register(OpenAI{})
	register(Anthropic{})
}

// Default lists the providers projected when none are configured.
func Default() []string {
	return []string{"anthropic", "gemini", "openai"}
}

// Names lists every known provider.
func Names() []string {
	out := make([]string, 0, len(projectors))
	for name := range projectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the projector for a provider name.
func Lookup(name string) (Projector, error) {
	p, ok := projectors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Resolve looks up every named provider.
func Resolve(names []string) ([]Projector, error) {
	if len(names) == 0 {
		names = Default()
	}
	out := make([]Projector, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		p, err := Lookup(n)
		if err != nil {
			return nil, err
		}
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		out = append(out, p)
	}
	return out, nil
}

// metaKeys are JSON Schema keywords that describe the document rather than the value.
var metaKeys = map[string]bool{"$schema": true, "$id": true, "$comment": true}

// clean returns a deep copy of a schema node without document-level keywords.
func clean(node any) any {
	switch t := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			if metaKeys[k] {
				continue
			}
			out[k] = clean(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = clean(v)
		}
		return out
	default:
		return node
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
