package projection

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// Anthropic renders an anthropic tool parameter with an input_schema.
type Anthropic struct{}

func (Anthropic) Name() string { return "anthropic" }

func (Anthropic) Project(t Tool) (json.RawMessage, error) {
	raw, err := json.Marshal(clean(t.Schema))
	if err != nil {
		return nil, fmt.Errorf("anthropic: %s: %w", t.Name, err)
	}
	var schema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", t.Name, err)
	}

	param := anthropic.ToolUnionParamOfTool(schema, t.Name)
	if param.OfTool == nil {
		return nil, fmt.Errorf("anthropic: invalid tool schema for %s: missing tool definition", t.Name)
	}
	param.OfTool.Description = anthropic.String(t.Description)
	return json.Marshal(param.OfTool)
}
