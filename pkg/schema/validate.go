package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var quotedName = regexp.MustCompile(`'([^']*)'`)

// Validator is a compiled JSON Schema for one tool's arguments.
type Validator struct {
	id     string
	schema *jsonschema.Schema
}

// Compile parses raw as a JSON Schema document.
func Compile(id string, raw []byte) (*Validator, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("schema %s: empty document", id)
	}
	s, err := jsonschema.CompileString(id+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", id, err)
	}
	return &Validator{id: id, schema: s}, nil
}

// CompileMap compiles a schema held as a decoded map.
func CompileMap(id string, m map[string]any) (*Validator, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", id, err)
	}
	return Compile(id, raw)
}

// Validate checks args and returns an *AggregateError with one entry per failing field.
func (v *Validator) Validate(args map[string]any) error {
	doc, err := Normalize(args)
	if err != nil {
		return &AggregateError{Errors: []error{&ValidationError{Reason: err.Error()}}}
	}
	err = v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &AggregateError{Errors: []error{&ValidationError{Reason: err.Error()}}}
	}

	var errs []error
	for _, leaf := range leaves(verr) {
		errs = append(errs, fieldErrors(leaf, args)...)
	}
	if len(errs) == 0 {
		errs = append(errs, &ValidationError{Reason: verr.Message})
	}
	return &AggregateError{Errors: errs}
}

// Normalize converts args to the plain JSON value space the validator expects.
func Normalize(args map[string]any) (any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("arguments are not JSON encodable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func leaves(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func fieldErrors(e *jsonschema.ValidationError, args map[string]any) []error {
	base := pointerToPath(e.InstanceLocation)

	switch {
	case strings.HasPrefix(e.Message, "missing properties"):
		var out []error
		for _, m := range quotedName.FindAllStringSubmatch(e.Message, -1) {
			out = append(out, &ValidationError{Key: join(base, m[1]), Reason: "required"})
		}
		return out
	case strings.HasPrefix(e.Message, "additionalProperties"):
		var out []error
		for _, m := range quotedName.FindAllStringSubmatch(e.Message, -1) {
			key := join(base, m[1])
			out = append(out, &ValidationError{Key: key, Reason: "unknown field", Value: lookup(args, key)})
		}
		return out
	}
	return []error{&ValidationError{Key: base, Reason: e.Message, Value: lookup(args, base)}}
}

func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}

func join(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func lookup(args map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = args
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[part]
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}
