package projection

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"
)

// Gemini renders a genai.FunctionDeclaration.
type Gemini struct{}

func (Gemini) Name() string { return "gemini" }

func (Gemini) Project(t Tool) (json.RawMessage, error) {
	params, err := GeminiSchema(t.Schema)
	if err != nil {
		return nil, fmt.Errorf("gemini: %s: %w", t.Name, err)
	}
	return json.Marshal(&genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	})
}

// GeminiSchema converts a JSON Schema node to genai.Schema, recursing through
// properties, items and anyOf. Type names are upper-cased; a type list with
// "null" becomes a nullable single type.
func GeminiSchema(node map[string]any) (*genai.Schema, error) {
	if node == nil {
		return nil, nil
	}
	s := &genai.Schema{}

	switch tv := node["type"].(type) {
	case string:
		s.Type = genai.Type(strings.ToUpper(tv))
	case []any:
		var types []string
		for _, e := range tv {
			name, _ := e.(string)
			if name == "null" {
				nullable := true
				s.Nullable = &nullable
				continue
			}
			types = append(types, name)
		}
		if len(types) != 1 {
			return nil, fmt.Errorf("union type %v is not supported, use anyOf", tv)
		}
		s.Type = genai.Type(strings.ToUpper(types[0]))
	}

	if v, ok := node["description"].(string); ok {
		s.Description = v
	}
	if v, ok := node["title"].(string); ok {
		s.Title = v
	}
	if v, ok := node["format"].(string); ok {
		s.Format = v
	}
	if v, ok := node["pattern"].(string); ok {
		s.Pattern = v
	}
	if v, ok := node["default"]; ok {
		s.Default = v
	}

	if enum, ok := node["enum"].([]any); ok {
		if err := geminiEnum(s, enum); err != nil {
			return nil, err
		}
	}

	s.Minimum = float(node, "minimum")
	s.Maximum = float(node, "maximum")
	s.MinItems = integer(node, "minItems")
	s.MaxItems = integer(node, "maxItems")
	s.MinLength = integer(node, "minLength")
	s.MaxLength = integer(node, "maxLength")

	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		names := make([]string, 0, len(props))
		for name, prop := range props {
			m, ok := prop.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q is not a schema object", name)
			}
			child, err := GeminiSchema(m)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			s.Properties[name] = child
			names = append(names, name)
		}
		sort.Strings(names)
		s.PropertyOrdering = names
	}
	s.Required = stringList(node["required"])

	if items, ok := node["items"].(map[string]any); ok {
		child, err := GeminiSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = child
	}

	if alts, ok := node["anyOf"].([]any); ok {
		for i, alt := range alts {
			m, ok := alt.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("anyOf[%d] is not a schema object", i)
			}
			child, err := GeminiSchema(m)
			if err != nil {
				return nil, fmt.Errorf("anyOf[%d]: %w", i, err)
			}
			s.AnyOf = append(s.AnyOf, child)
		}
	}
	return s, nil
}

// geminiEnum sets the enum of s. Gemini only enumerates strings, so a
// non-string enum keeps its type and lists the allowed values in the
// description instead of changing what the model is asked to send.
func geminiEnum(s *genai.Schema, enum []any) error {
	var strs, literals []string
	for _, e := range enum {
		if str, ok := e.(string); ok {
			strs = append(strs, str)
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("enum value %v: %w", e, err)
		}
		literals = append(literals, string(raw))
	}

	if len(strs) == len(enum) && (s.Type == "" || s.Type == genai.TypeString) {
		s.Type = genai.TypeString
		s.Enum = strs
		return nil
	}
	allowed := "Allowed values: " + strings.Join(literals, ", ") + "."
	if s.Description == "" {
		s.Description = allowed
	} else {
		s.Description = strings.TrimRight(s.Description, " ") + " " + allowed
	}
	return nil
}

func float(node map[string]any, key string) *float64 {
	switch v := node[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	}
	return nil
}

func integer(node map[string]any, key string) *int64 {
	f := float(node, key)
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}
