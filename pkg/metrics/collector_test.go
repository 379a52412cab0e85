package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_SummaryPercentiles(t *testing.T) {
	c := metrics.New()
	for i := 1; i <= 100; i++ {
		c.RecordExecution("search", int64(i), i%10 != 0)
	}
	c.RecordError("search", domain.KindTransient)
	c.RecordBudgetViolation("search", 900, 500)

	s := c.Summary()
	ts, ok := s.Tool("search")
	require.True(t, ok)
	assert.Equal(t, 100, ts.Calls)
	assert.Equal(t, 10, ts.Failures)
	assert.InDelta(t, 0.1, ts.ErrorRate, 1e-9)
	assert.Equal(t, 1, ts.BudgetViolations)
	assert.Equal(t, 1, ts.Errors[domain.KindTransient])

	assert.Equal(t, 100, ts.LatencyMs.Count)
	assert.Equal(t, 50.0, ts.LatencyMs.P50)
	assert.Equal(t, 90.0, ts.LatencyMs.P90)
	assert.Equal(t, 99.0, ts.LatencyMs.P99)
	assert.Equal(t, 100.0, ts.LatencyMs.Max)

	assert.Equal(t, 100, s.TotalCalls)
	assert.InDelta(t, 0.1, s.ErrorRate, 1e-9)
}

func TestCollector_PayloadTokens(t *testing.T) {
	c := metrics.New()
	c.RecordResponsePayload("search", strings.Repeat("a", 98)) // 100 bytes once quoted

	ts, ok := c.Summary().Tool("search")
	require.True(t, ok)
	assert.Equal(t, 100.0, ts.PayloadBytes.Max)
	assert.Equal(t, 25.0, ts.Tokens.Max)

	assert.Equal(t, 0, metrics.EstimateTokens(0))
	assert.Equal(t, 1, metrics.EstimateTokens(1))
	assert.Equal(t, 2, metrics.EstimateTokens(5))

	expected := `
		# HELP toolgate_tool_response_tokens_total Estimated tokens returned to the agent
		# TYPE toolgate_tool_response_tokens_total counter
		toolgate_tool_response_tokens_total{tool_id="search"} 25
	`
	assert.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "toolgate_tool_response_tokens_total"))
}

func TestCollector_UnmarshalablePayloadIsIgnored(t *testing.T) {
	c := metrics.New()
	assert.NotPanics(t, func() {
		c.RecordResponsePayload("search", map[string]any{"ch": make(chan int)})
	})
	_, ok := c.Summary().Tool("search")
	assert.False(t, ok)
}

func TestCollector_WindowBoundsSamples(t *testing.T) {
	c := metrics.New(metrics.WithWindow(10))
	for i := 1; i <= 25; i++ {
		c.RecordExecution("search", int64(i), true)
	}
	ts, _ := c.Summary().Tool("search")
	assert.Equal(t, 25, ts.Calls)
	assert.Equal(t, 10, ts.LatencyMs.Count)
	assert.Equal(t, 25.0, ts.LatencyMs.Max)
}

func TestCollector_SessionTrace(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := metrics.New(metrics.WithClock(func() time.Time { return now }))

	c.StartSession("s1")
	c.RecordSessionCall("s1", "search", 12, true)
	c.StartNewTurn("s1")
	c.RecordSessionCall("s1", "act", 30, false)
	c.RecordSessionCall("s1", "search", 8, true)
	c.RecordSessionCall("ghost", "search", 1, true)

	assert.Equal(t, 1, c.Summary().ActiveSessions)

	live, ok := c.Session("s1")
	require.True(t, ok)
	assert.Equal(t, 3, live.Calls())

	trace := c.EndSession("s1")
	require.NotNil(t, trace)
	require.Len(t, trace.Turns, 2)
	assert.Len(t, trace.Turns[0].Calls, 1)
	assert.Equal(t, 2, trace.Turns[1].Turn)
	assert.Equal(t, "act", trace.Turns[1].Calls[0].ToolID)
	assert.False(t, trace.Turns[1].Calls[0].OK)
	assert.Equal(t, now, trace.EndedAt)

	assert.Nil(t, c.EndSession("s1"))
	assert.Zero(t, c.Summary().ActiveSessions)
}

func TestCollector_SwallowsFailures(t *testing.T) {
	c := metrics.New(metrics.WithClock(func() time.Time { panic("clock broke") }))

	assert.NotPanics(t, func() {
		c.StartSession("s1")
		c.RecordSessionCall("s1", "search", 1, true)
		c.EndSession("s1")
	})
	assert.NotPanics(t, func() {
		c.RecordExecution("search", 5, true)
	}, "the collector stays usable after a swallowed panic")
}

func TestCollector_PrometheusExport(t *testing.T) {
	c := metrics.New()
	c.RecordExecution("search", 20, true)
	c.RecordExecution("search", 40, false)
	c.RecordError("search", domain.KindRateLimit)

	n, err := testutil.GatherAndCount(c.Registry(), "toolgate_tool_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	expected := `
		# HELP toolgate_tool_errors_total Tool failures by tool and error type
		# TYPE toolgate_tool_errors_total counter
		toolgate_tool_errors_total{tool_id="search",type="RATE_LIMIT"} 1
	`
	assert.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "toolgate_tool_errors_total"))
}
