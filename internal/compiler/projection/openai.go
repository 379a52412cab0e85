package projection

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI renders an openai.Tool of type function. The parameters are the
// canonical schema itself, deep-copied without document-level keywords.
type OpenAI struct{}

func (OpenAI) Name() string { return "openai" }

func (OpenAI) Project(t Tool) (json.RawMessage, error) {
	return json.Marshal(openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  clean(t.Schema),
		},
	})
}
