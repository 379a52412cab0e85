package compiler_test

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/toolgate/internal/compiler"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	a := domain.ToolRecord{ToolMetadata: domain.ToolMetadata{ToolID: "a", Version: "1.0.0"}, JSONSchema: json.RawMessage(`{"type":"object"}`), Summary: "A."}
	b := domain.ToolRecord{ToolMetadata: domain.ToolMetadata{ToolID: "b"}, JSONSchema: json.RawMessage(`{"type":"object"}`), Summary: "B."}

	v1, err := compiler.Version(2, []domain.ToolRecord{a, b})
	require.NoError(t, err)
	v2, err := compiler.Version(2, []domain.ToolRecord{b, a})
	require.NoError(t, err)
	assert.Equal(t, v1, v2, "order independent")
	assert.Regexp(t, `^2\.[0-9a-f]{16}$`, v1)

	a.Version = "9.9.9"
	a.Documentation = "changed"
	v3, _ := compiler.Version(2, []domain.ToolRecord{a, b})
	assert.Equal(t, v1, v3, "only ids, schemas and summaries participate")

	a.JSONSchema = json.RawMessage(`{"type":"object","additionalProperties":false}`)
	v4, _ := compiler.Version(2, []domain.ToolRecord{a, b})
	assert.NotEqual(t, v1, v4)

	v5, _ := compiler.Version(3, []domain.ToolRecord{a, b})
	assert.Equal(t, v4[2:], v5[2:])
}
