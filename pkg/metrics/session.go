package metrics

import "time"

// CallTrace is one call inside a traced turn.
type CallTrace struct {
	ToolID     string    `json:"toolId"`
	DurationMs int64     `json:"durationMs"`
	OK         bool      `json:"ok"`
	At         time.Time `json:"at"`
}

// TurnTrace groups the calls of one conversational turn.
type TurnTrace struct {
	Turn  int         `json:"turn"`
	Calls []CallTrace `json:"calls"`
}

// SessionTrace is the call history of one session.
type SessionTrace struct {
	SessionID string      `json:"sessionId"`
	StartedAt time.Time   `json:"startedAt"`
	EndedAt   time.Time   `json:"endedAt,omitempty"`
	Turns     []TurnTrace `json:"turns"`
}

// Calls counts the calls across all turns.
func (t *SessionTrace) Calls() int {
	n := 0
	for _, turn := range t.Turns {
		n += len(turn.Calls)
	}
	return n
}

func (t *SessionTrace) clone() *SessionTrace {
	c := *t
	c.Turns = make([]TurnTrace, len(t.Turns))
	for i, turn := range t.Turns {
		c.Turns[i] = TurnTrace{Turn: turn.Turn, Calls: append([]CallTrace(nil), turn.Calls...)}
	}
	return &c
}

// StartSession begins tracing a session. Starting an already traced session restarts it.
func (c *Collector) StartSession(id string) {
	defer c.guard("start_session")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = &SessionTrace{
		SessionID: id,
		StartedAt: c.now(),
		Turns:     []TurnTrace{{Turn: 1}},
	}
	c.active.Set(float64(len(c.sessions)))
}

// StartNewTurn opens the next turn of a traced session.
func (c *Collector) StartNewTurn(id string) {
	defer c.guard("start_new_turn")

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.sessions[id]
	if !ok {
		return
	}
	next := t.Turns[len(t.Turns)-1].Turn + 1
	t.Turns = append(t.Turns, TurnTrace{Turn: next})
}

// RecordSessionCall appends a call to the current turn of a traced session.
func (c *Collector) RecordSessionCall(id, toolID string, durationMs int64, ok bool) {
	defer c.guard("record_session_call")

	c.mu.Lock()
	defer c.mu.Unlock()
	t, found := c.sessions[id]
	if !found {
		c.logger.Debug("Call for untraced session", "session_id", id, "tool_id", toolID)
		return
	}
	cur := &t.Turns[len(t.Turns)-1]
	cur.Calls = append(cur.Calls, CallTrace{ToolID: toolID, DurationMs: durationMs, OK: ok, At: c.now()})
}

// Session returns a copy of a live trace.
func (c *Collector) Session(id string) (*SessionTrace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.sessions[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// EndSession stops tracing and returns the finished trace, or nil if the session was not traced.
func (c *Collector) EndSession(id string) (trace *SessionTrace) {
	defer c.guard("end_session")

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.sessions[id]
	if !ok {
		return nil
	}
	delete(c.sessions, id)
	c.active.Set(float64(len(c.sessions)))
	t.EndedAt = c.now()
	c.logger.Debug("Session trace closed", "session_id", id, "turns", len(t.Turns), "calls", t.Calls())
	return t
}
