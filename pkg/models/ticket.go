package models

import "time"

// Escalation reasons recorded on the ticket.
const (
	ReasonMultipleAttemptsFailed = "multiple_attempts_failed"
	ReasonUserRequested          = "user_requested"
	ReasonRiskDetected           = "risk_detected"
	ReasonClarificationFailed    = "clarification_failed"
)

// Ticket is the human-handover record. One per conversation: the
// conversation id is the primary key and a second escalation attempt
// returns the existing ticket.
type Ticket struct {
	ConversationID    string    `json:"conversation_id"`
	CreatedAt         time.Time `json:"created_at"`
	User              User      `json:"user"`
	Problem           string    `json:"problem"`
	Reason            string    `json:"reason"`
	TranscriptPointer string    `json:"transcript_pointer"`
	ContactURL        string    `json:"contact_url"`
}
