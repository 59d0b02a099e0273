package app

// Session phases track where a conversation is in its lifecycle.
const (
	PhaseInit     = "init"
	PhaseActive   = "active"
	PhaseRefining = "refining"
	PhaseReview   = "review"
)

// Session tones bias the system prompt.
const (
	ToneNeutral  = "neutral"
	TonePrecise  = "precise"
	ToneCreative = "creative"
	ToneCritical = "critical"
)

// Session is the per-installation conversation context. It is mutated only
// by the orchestrator on the goroutine handling the current turn.
type Session struct {
	SessionID        string
	ConversationGoal string
	CurrentIntent    string
	IntentConfidence float64
	Phase            string
	Tone             string
	TurnCount        int
	ShortTermSummary string
	LastSummaryTurn  int
}

func newSession(instanceID string) *Session {
	return &Session{
		SessionID: instanceID,
		Phase:     PhaseInit,
		Tone:      ToneNeutral,
	}
}

// advance moves the phase along init → active → refining as turns
// accumulate.
func (s *Session) advance() {
	s.TurnCount++
	switch {
	case s.TurnCount >= 10 && s.Phase == PhaseActive:
		s.Phase = PhaseRefining
	case s.Phase == PhaseInit:
		s.Phase = PhaseActive
	}
}
