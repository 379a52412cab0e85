package domain

import "time"

// CallRecord is the session-local bookkeeping of one executed call.
// Response is dropped once the payload has been summarized; Fingerprint and OK always remain.
type CallRecord struct {
	ID          string        `json:"id"`
	ToolID      string        `json:"toolId"`
	Fingerprint string        `json:"argsFingerprint"`
	Turn        int           `json:"turn"`
	Timestamp   time.Time     `json:"timestamp"`
	OK          bool          `json:"ok"`
	Summary     string        `json:"summary,omitempty"`
	Response    *ToolResponse `json:"response,omitempty"`
}
