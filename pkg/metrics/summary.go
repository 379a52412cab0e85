package metrics

import (
	"sort"

	"github.com/aretw0/toolgate/pkg/domain"
)

// ToolSummary aggregates the retained observations of one tool.
type ToolSummary struct {
	ToolID           string                   `json:"toolId"`
	Calls            int                      `json:"calls"`
	Failures         int                      `json:"failures"`
	ErrorRate        float64                  `json:"errorRate"`
	BudgetViolations int                      `json:"budgetViolations"`
	Errors           map[domain.ErrorKind]int `json:"errors,omitempty"`
	LatencyMs        Percentiles              `json:"latencyMs"`
	PayloadBytes     Percentiles              `json:"payloadBytes"`
	Tokens           Percentiles              `json:"tokens"`
}

// Summary is a read-only view of the collector.
type Summary struct {
	Tools          []ToolSummary `json:"tools"`
	TotalCalls     int           `json:"totalCalls"`
	TotalFailures  int           `json:"totalFailures"`
	ErrorRate      float64       `json:"errorRate"`
	ActiveSessions int           `json:"activeSessions"`
}

// Tool returns the summary of toolID.
func (s Summary) Tool(toolID string) (ToolSummary, bool) {
	for _, t := range s.Tools {
		if t.ToolID == toolID {
			return t, true
		}
	}
	return ToolSummary{}, false
}

// Summary computes percentiles per tool and aggregate error rates.
func (c *Collector) Summary() (out Summary) {
	defer c.guard("summary")

	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.tools))
	for id := range c.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := c.tools[id]
		ts := ToolSummary{
			ToolID:           id,
			Calls:            s.calls,
			Failures:         s.failures,
			ErrorRate:        rate(s.failures, s.calls),
			BudgetViolations: s.budgetViolations,
			LatencyMs:        percentiles(s.latency.values()),
			PayloadBytes:     percentiles(s.size.values()),
			Tokens:           percentiles(s.tokens.values()),
		}
		if len(s.errors) > 0 {
			ts.Errors = make(map[domain.ErrorKind]int, len(s.errors))
			for k, v := range s.errors {
				ts.Errors[k] = v
			}
		}
		out.Tools = append(out.Tools, ts)
		out.TotalCalls += s.calls
		out.TotalFailures += s.failures
	}
	out.ErrorRate = rate(out.TotalFailures, out.TotalCalls)
	out.ActiveSessions = len(c.sessions)
	return out
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
