// Package metrics records latency, payload and error observations for tool calls.
//
// The Collector is advisory: no method returns an error or panics, and nothing
// it records is ever read back by the dispatch path. Observations are kept in a
// bounded in-memory window per tool for the percentile summary and are also
// exported as Prometheus collectors on a private registry.
package metrics

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultWindow is the number of samples retained per tool and series.
const DefaultWindow = 1024

// BytesPerToken is the divisor of the payload token estimate.
const BytesPerToken = 4

// UnknownTool labels observations for tool IDs that are not in the registry,
// keeping the label set bounded by the catalog.
const UnknownTool = "_unknown"

type toolStats struct {
	calls            int
	failures         int
	budgetViolations int
	errors           map[domain.ErrorKind]int
	latency          *ring
	size             *ring
	tokens           *ring
}

// Collector is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	window   int
	tools    map[string]*toolStats
	sessions map[string]*SessionTrace

	registry   *prometheus.Registry
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	payload    *prometheus.HistogramVec
	tokens     *prometheus.CounterVec
	budget     *prometheus.CounterVec
	active     prometheus.Gauge

	now    func() time.Time
	logger *slog.Logger
}

// Option configures the Collector.
type Option func(*Collector)

// WithLogger configures a logger for the Collector.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithWindow sets how many samples are kept per tool.
func WithWindow(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithClock overrides time.Now for session traces.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// New creates a Collector with its own Prometheus registry.
func New(opts ...Option) *Collector {
	c := &Collector{
		window:   DefaultWindow,
		tools:    make(map[string]*toolStats),
		sessions: make(map[string]*SessionTrace),
		registry: prometheus.NewRegistry(),
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	f := promauto.With(c.registry)
	c.executions = f.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_tool_executions_total",
		Help: "Tool executions by tool and status",
	}, []string{"tool_id", "status"})
	c.duration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolgate_tool_execution_duration_seconds",
		Help:    "Tool execution latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"tool_id"})
	c.errors = f.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_tool_errors_total",
		Help: "Tool failures by tool and error type",
	}, []string{"tool_id", "type"})
	c.payload = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolgate_tool_response_bytes",
		Help:    "Size of tool response payloads in bytes",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	}, []string{"tool_id"})
	c.tokens = f.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_tool_response_tokens_total",
		Help: "Estimated tokens returned to the agent",
	}, []string{"tool_id"})
	c.budget = f.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_latency_budget_violations_total",
		Help: "Calls that exceeded the tool latency budget",
	}, []string{"tool_id"})
	c.active = f.NewGauge(prometheus.GaugeOpts{
		Name: "toolgate_active_sessions",
		Help: "Sessions currently traced",
	})
	return c
}

// Registry exposes the Prometheus registry for scraping.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// guard swallows a panic raised while recording.
func (c *Collector) guard(op string) {
	if r := recover(); r != nil {
		c.logger.Error("Metrics recording failed", "op", op, "panic", r)
	}
}

func (c *Collector) statsLocked(toolID string) *toolStats {
	s, ok := c.tools[toolID]
	if !ok {
		s = &toolStats{
			errors:  make(map[domain.ErrorKind]int),
			latency: newRing(c.window),
			size:    newRing(c.window),
			tokens:  newRing(c.window),
		}
		c.tools[toolID] = s
	}
	return s
}

// RecordExecution records one completed call.
func (c *Collector) RecordExecution(toolID string, durationMs int64, success bool) {
	defer c.guard("record_execution")

	status := "success"
	if !success {
		status = "error"
	}
	c.executions.WithLabelValues(toolID, status).Inc()
	c.duration.WithLabelValues(toolID).Observe(float64(durationMs) / 1000)

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.statsLocked(toolID)
	s.calls++
	if !success {
		s.failures++
	}
	s.latency.add(float64(durationMs))
}

// RecordError records the error type of a failed call.
func (c *Collector) RecordError(toolID string, kind domain.ErrorKind) {
	defer c.guard("record_error")

	c.errors.WithLabelValues(toolID, string(kind)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsLocked(toolID).errors[kind]++
}

// RecordBudgetViolation records a call that ran longer than its latency budget.
func (c *Collector) RecordBudgetViolation(toolID string, actualMs, budgetMs int64) {
	defer c.guard("record_budget_violation")

	c.budget.WithLabelValues(toolID).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsLocked(toolID).budgetViolations++
}

// RecordResponsePayload records the serialized size of a response payload and its token estimate.
func (c *Collector) RecordResponsePayload(toolID string, payload any) {
	defer c.guard("record_response_payload")

	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("Payload not measurable", "tool_id", toolID, "error", err)
		return
	}
	size := len(raw)
	tokens := EstimateTokens(size)

	c.payload.WithLabelValues(toolID).Observe(float64(size))
	c.tokens.WithLabelValues(toolID).Add(float64(tokens))

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.statsLocked(toolID)
	s.size.add(float64(size))
	s.tokens.add(float64(tokens))
}

// EstimateTokens approximates the token count of a payload of n bytes.
func EstimateTokens(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / BytesPerToken))
}

// Reset drops all retained samples and traces. Prometheus counters are left untouched.
func (c *Collector) Reset() {
	defer c.guard("reset")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = make(map[string]*toolStats)
	c.sessions = make(map[string]*SessionTrace)
	c.active.Set(0)
}
