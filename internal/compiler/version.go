package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aretw0/toolgate/pkg/domain"
)

// hashLen is the number of hex characters of the digest kept in the version.
const hashLen = 16

type versionInput struct {
	ToolID     string          `json:"toolId"`
	JSONSchema json.RawMessage `json:"jsonSchema"`
	Summary    string          `json:"summary"`
}

// Version derives "<major>.<hash>" from tool ids, canonical schemas and summaries.
// Revision, timestamps and tool order do not participate.
func Version(major int, tools []domain.ToolRecord) (string, error) {
	in := make([]versionInput, len(tools))
	for i, t := range tools {
		in[i] = versionInput{ToolID: t.ToolID, JSONSchema: t.JSONSchema, Summary: t.Summary}
	}
	sort.Slice(in, func(i, j int) bool { return in[i].ToolID < in[j].ToolID })

	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to encode version input: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%d.%s", major, hex.EncodeToString(sum[:])[:hashLen]), nil
}
