// Package dedup suppresses near-duplicate calls to cacheable tools within a session.
//
// Every executed call is recorded with its fingerprint and outcome. Before a
// cacheable tool runs, the detector looks for a recent successful call to the
// same tool whose arguments are similar enough, and serves that response
// instead, annotated with guidance for the calling agent. Large payloads are
// compressed into short summaries in the background.
package dedup

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// Config bounds the session history.
type Config struct {
	Threshold      float64       `mapstructure:"threshold"`
	WindowTurns    int           `mapstructure:"window_turns"`
	TTL            time.Duration `mapstructure:"ttl"`
	MaxRecords     int           `mapstructure:"max_records"`
	SummarizeAbove int           `mapstructure:"summarize_above"` // payload bytes; 0 disables summaries
	Workers        int           `mapstructure:"workers"`
}

// DefaultConfig keeps the last three turns, up to 64 calls, for ten minutes.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		WindowTurns:    3,
		TTL:            10 * time.Minute,
		MaxRecords:     64,
		SummarizeAbove: 4096,
		Workers:        2,
	}
}

// Summarizer turns a full response into a short natural-language line.
type Summarizer func(toolID string, resp *domain.ToolResponse) string

type entry struct {
	rec domain.CallRecord
	key key
}

// Detector is scoped to one session.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	entries []*entry
	turn    int

	submit    sync.RWMutex // guards pool against use after Close
	closed    bool
	pool      *pool.Pool
	summarize Summarizer

	now    func() time.Time
	logger *slog.Logger
}

// Option configures the Detector.
type Option func(*Detector)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// WithSummarizer replaces DefaultSummary.
func WithSummarizer(s Summarizer) Option {
	return func(d *Detector) {
		d.summarize = s
	}
}

// WithLogger configures a logger for the Detector.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// New creates a Detector. Zero config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.WindowTurns <= 0 {
		cfg.WindowTurns = def.WindowTurns
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = def.MaxRecords
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}

	d := &Detector{
		cfg:       cfg,
		summarize: DefaultSummary,
		now:       time.Now,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = pool.New().WithMaxGoroutines(cfg.Workers)
	return d
}

// StartTurn advances the turn counter and prunes history outside the window.
func (d *Detector) StartTurn(turn int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turn = turn
	d.pruneLocked()
}

// Check returns a reusable response for a call similar to a recent successful one.
func (d *Detector) Check(toolID string, args map[string]any) (*domain.ToolResponse, bool) {
	k := newKey(args)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()

	for i := len(d.entries) - 1; i >= 0; i-- {
		e := d.entries[i]
		if e.rec.ToolID != toolID || !e.rec.OK {
			continue
		}
		score := similarity(k, e.key)
		if score < d.cfg.Threshold {
			continue
		}
		d.logger.Debug("Reusing prior call", "tool_id", toolID, "call_id", e.rec.ID, "similarity", score)
		return reuse(e.rec), true
	}
	return nil, false
}

func reuse(rec domain.CallRecord) *domain.ToolResponse {
	var resp *domain.ToolResponse
	if rec.Response != nil {
		resp = rec.Response.Clone()
	} else {
		resp = domain.Success(map[string]any{"summary": rec.Summary})
	}
	// replaying intents would apply them twice
	resp.Intents = nil
	resp.Meta.Reused = true
	resp.Meta.Guidance = fmt.Sprintf(
		"This result was reused from an earlier %s call in turn %d with the same arguments. "+
			"Do not repeat the call; use this result or change the arguments.", rec.ToolID, rec.Turn)
	return resp
}

// Record stores an executed call. The fingerprint and outcome are kept synchronously;
// large successful payloads are summarized in the background.
func (d *Detector) Record(toolID string, args map[string]any, resp *domain.ToolResponse) domain.CallRecord {
	k := newKey(args)
	rec := domain.CallRecord{
		ID:          uuid.NewString(),
		ToolID:      toolID,
		Fingerprint: Fingerprint(args),
		Timestamp:   d.now(),
		OK:          resp != nil && resp.OK,
		Response:    resp.Clone(),
	}

	d.mu.Lock()
	rec.Turn = d.turn
	d.entries = append(d.entries, &entry{rec: rec, key: k})
	if over := len(d.entries) - d.cfg.MaxRecords; over > 0 {
		d.entries = append([]*entry(nil), d.entries[over:]...)
	}
	d.mu.Unlock()

	if rec.OK && d.cfg.SummarizeAbove > 0 && payloadSize(resp.Data) > d.cfg.SummarizeAbove {
		d.submit.RLock()
		if !d.closed {
			full := rec.Response
			d.pool.Go(func() { d.compress(rec.ID, toolID, full) })
		}
		d.submit.RUnlock()
	}
	return rec
}

func (d *Detector) compress(id, toolID string, full *domain.ToolResponse) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Summarizer panicked", "call_id", id, "panic", r)
		}
	}()
	summary := d.summarize(toolID, full)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.rec.ID == id {
			e.rec.Summary = summary
			e.rec.Response = nil
			return
		}
	}
}

// History returns a copy of the retained records, oldest first.
func (d *Detector) History() []domain.CallRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.CallRecord, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.rec
	}
	return out
}

// Reset drops all history.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
}

// Close waits for pending summaries and drops history.
func (d *Detector) Close() {
	d.submit.Lock()
	wasClosed := d.closed
	d.closed = true
	d.submit.Unlock()
	if !wasClosed {
		d.pool.Wait()
	}
	d.Reset()
}

func (d *Detector) pruneLocked() {
	now := d.now()
	kept := d.entries[:0]
	for _, e := range d.entries {
		if e.rec.Turn <= d.turn-d.cfg.WindowTurns {
			continue
		}
		if d.cfg.TTL > 0 && now.Sub(e.rec.Timestamp) > d.cfg.TTL {
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(d.entries); i++ {
		d.entries[i] = nil
	}
	d.entries = kept
}

func payloadSize(data any) int {
	if data == nil {
		return 0
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return 0
	}
	return len(raw)
}
