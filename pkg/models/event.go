package models

import "time"

// Event roles.
const (
	RoleUser   = "user"
	RoleBot    = "bot"
	RoleSystem = "system"
)

// Event kinds.
const (
	KindText    = "text"
	KindButton  = "button"
	KindButtons = "buttons"
	KindEvent   = "event"
)

// System event names recorded in the transcript. These are the forensic
// audit trail: stage changes, ID assignment, and the full lifecycle of every
// LLM call (raw results stored as hashes, parsed results in full).
const (
	EventStageChanged           = "STAGE_CHANGED"
	EventConversationIDAssigned = "CONVERSATION_ID_ASSIGNED"
	EventIACallStart            = "IA_CALL_START"
	EventIACallPayloadSummary   = "IA_CALL_PAYLOAD_SUMMARY"
	EventIACallResultRaw        = "IA_CALL_RESULT_RAW"
	EventIAClassifierResult     = "IA_CLASSIFIER_RESULT"
	EventIAStepResult           = "IA_STEP_RESULT"
	EventIACallValidationFail   = "IA_CALL_VALIDATION_FAIL"
	EventFallbackUsed           = "FALLBACK_USED"
	EventRiskSummaryShown       = "RISK_SUMMARY_SHOWN"
	EventEscalated              = "ESCALATED"
	EventImageUploaded          = "IMAGE_UPLOADED"
)

// TranscriptEvent is one immutable entry in a conversation's transcript.
// It is polymorphic over Role and Kind:
//
//	{role: user,   kind: text|button}  → Text or Label+Value
//	{role: bot,    kind: text|buttons} → Text and/or Buttons
//	{role: system, kind: event}        → Name + Payload
type TranscriptEvent struct {
	T       time.Time      `json:"t"`
	Role    string         `json:"role"`
	Kind    string         `json:"kind"`
	Text    string         `json:"text,omitempty"`
	Label   string         `json:"label,omitempty"`
	Value   string         `json:"value,omitempty"`
	Buttons []Button       `json:"buttons,omitempty"`
	Name    string         `json:"name,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NewUserText creates a user free-text event.
func NewUserText(text string) TranscriptEvent {
	return TranscriptEvent{Role: RoleUser, Kind: KindText, Text: text}
}

// NewUserButton creates a user button-press event.
func NewUserButton(value, label string) TranscriptEvent {
	return TranscriptEvent{Role: RoleUser, Kind: KindButton, Value: value, Label: label}
}

// NewBotText creates a bot text reply event.
func NewBotText(text string) TranscriptEvent {
	return TranscriptEvent{Role: RoleBot, Kind: KindText, Text: text}
}

// NewBotButtons creates a bot reply event carrying buttons.
func NewBotButtons(text string, buttons []Button) TranscriptEvent {
	return TranscriptEvent{Role: RoleBot, Kind: KindButtons, Text: text, Buttons: buttons}
}

// NewSystemEvent creates a system event with an arbitrary payload.
func NewSystemEvent(name string, payload map[string]any) TranscriptEvent {
	return TranscriptEvent{Role: RoleSystem, Kind: KindEvent, Name: name, Payload: payload}
}
