package dedup

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/toolgate/pkg/domain"
)

const summaryLimit = 160

// DefaultSummary describes a response in one line. Collections under "results"
// or "items" are summarized by count and first entry; anything else by a
// truncated JSON rendering.
func DefaultSummary(toolID string, resp *domain.ToolResponse) string {
	if resp == nil {
		return toolID + " returned nothing"
	}
	if m, ok := generic(resp.Data).(map[string]any); ok {
		for _, field := range []string{"results", "items"} {
			list, ok := m[field].([]any)
			if !ok {
				continue
			}
			if len(list) == 0 {
				return fmt.Sprintf("%s returned no %s", toolID, field)
			}
			return fmt.Sprintf("%s returned %d %s; first: %s", toolID, len(list), field, truncate(render(list[0])))
		}
	}
	return fmt.Sprintf("%s returned %s", toolID, truncate(render(resp.Data)))
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= summaryLimit {
		return s
	}
	return string(r[:summaryLimit-1]) + "…"
}
