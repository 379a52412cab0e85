package domain

// IntentType names a session state change a handler can request.
type IntentType string

const (
	IntentEndSession         IntentType = "end_session"
	IntentSuppressAudio      IntentType = "suppress_audio"
	IntentSuppressTranscript IntentType = "suppress_transcript"
	IntentSetPendingMessage  IntentType = "set_pending_message"
)

// Intent is data, not a call. The state controller applies it after the handler returns.
type Intent struct {
	Type    IntentType `json:"type" yaml:"type" mapstructure:"type"`
	After   string     `json:"after,omitempty" yaml:"after,omitempty" mapstructure:"after"`
	Value   *bool      `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
	Message string     `json:"message,omitempty" yaml:"message,omitempty" mapstructure:"message"`
}

// Common trigger conditions for EndSession.
const (
	AfterCurrentTurn = "current_turn"
	AfterNextTurn    = "next_turn"
)

// PendingEnd is the marker stored by the state controller for an EndSession intent.
// Ending the session is the orchestrator's decision.
type PendingEnd struct {
	After string `json:"after"`
}

func EndSession(after string) Intent {
	return Intent{Type: IntentEndSession, After: after}
}

func SuppressAudio(v bool) Intent {
	return Intent{Type: IntentSuppressAudio, Value: &v}
}

func SuppressTranscript(v bool) Intent {
	return Intent{Type: IntentSuppressTranscript, Value: &v}
}

func SetPendingMessage(msg string) Intent {
	return Intent{Type: IntentSetPendingMessage, Message: msg}
}
