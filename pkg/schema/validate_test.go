package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["query"],
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "limit": {"type": "integer", "minimum": 1, "maximum": 50},
    "rich":  {"type": "boolean"},
    "filter": {
      "type": "object",
      "additionalProperties": false,
      "properties": {"lang": {"type": "string", "enum": ["en", "pt"]}}
    }
  }
}`

func compileSearch(t *testing.T) *Validator {
	t.Helper()
	v, err := Compile("search", []byte(searchSchema))
	require.NoError(t, err)
	return v
}

func TestValidate_Success(t *testing.T) {
	v := compileSearch(t)

	tests := []map[string]any{
		{"query": "x"},
		{"query": "x", "limit": 3, "rich": true},
		{"query": "x", "limit": 3.0},
		{"query": "x", "filter": map[string]any{"lang": "pt"}},
	}
	for _, args := range tests {
		assert.NoError(t, v.Validate(args), "args %v", args)
	}
}

func TestValidate_MissingField(t *testing.T) {
	v := compileSearch(t)

	err := v.Validate(map[string]any{"limit": 2})
	require.Error(t, err)

	msgs := FieldMessages(err)
	assert.Equal(t, []string{"required"}, msgs["query"])
}

func TestValidate_UnknownField(t *testing.T) {
	v := compileSearch(t)

	err := v.Validate(map[string]any{"query": "x", "verbose": true})
	require.Error(t, err)

	errs := ValidationErrors(err)
	require.Len(t, errs, 1)
	ve, ok := errs[0].(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "verbose", ve.Key)
	assert.Equal(t, "unknown field", ve.Reason)
	assert.Equal(t, true, ve.Value)
}

func TestValidate_MultipleErrors(t *testing.T) {
	v := compileSearch(t)

	err := v.Validate(map[string]any{
		"query":  "x",
		"limit":  "ten",
		"rich":   "yes",
		"filter": map[string]any{"lang": "fr"},
	})
	require.Error(t, err)

	msgs := FieldMessages(err)
	assert.Contains(t, msgs, "limit")
	assert.Contains(t, msgs, "rich")
	assert.Contains(t, msgs, "filter.lang")
	assert.True(t, strings.HasPrefix(err.Error(), "3 validation errors"), err.Error())
}

func TestValidate_NilArgs(t *testing.T) {
	v := compileSearch(t)

	err := v.Validate(nil)
	require.Error(t, err)
	assert.Contains(t, FieldMessages(err), "query")
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile("bad", []byte(`{"type": 12}`))
	assert.Error(t, err)

	_, err = Compile("empty", nil)
	assert.Error(t, err)
}

func TestCheckStrictObject(t *testing.T) {
	tests := []struct {
		name    string
		schema  map[string]any
		wantErr bool
	}{
		{"strict object", map[string]any{"type": "object", "additionalProperties": false}, false},
		{"missing flag", map[string]any{"type": "object"}, true},
		{"open object", map[string]any{"type": "object", "additionalProperties": true}, true},
		{"schema valued", map[string]any{"type": "object", "additionalProperties": map[string]any{}}, true},
		{"not an object", map[string]any{"type": "array", "additionalProperties": false}, true},
		{"nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckStrictObject(tt.schema)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidationError_String(t *testing.T) {
	err := &ValidationError{Key: "limit", Reason: "expected integer", Value: "ten"}
	assert.Equal(t, `field "limit": expected integer (got string)`, err.Error())

	err = &ValidationError{Reason: "bad"}
	assert.Equal(t, `field "(root)": bad`, err.Error())
}
