package models

import (
	"time"
)

// Schema and flow versioning for forward-compatible migration.
const (
	CurrentSchemaVersion = "2.0.0"
	LegacySchemaVersion  = "1.0.0"
	CurrentFlowVersion   = "1.0"
)

// Conversation status.
type Status string

const (
	StatusOpen      Status = "open"
	StatusEscalated Status = "escalated"
	StatusClosed    Status = "closed"
)

// Feedback captured at the end of a conversation.
type Feedback string

const (
	FeedbackNone     Feedback = "none"
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// UserLevel is the self-reported technical level, used to gate risky steps.
type UserLevel string

const (
	LevelBasic        UserLevel = "basic"
	LevelIntermediate UserLevel = "intermediate"
	LevelAdvanced     UserLevel = "advanced"
)

// Language is the interface language. Closed set; default es-AR.
type Language string

const (
	LangEsAR Language = "es-AR"
	LangEn   Language = "en"

	DefaultLanguage = LangEsAR
)

// KnownLanguage reports whether l is in the closed language set.
func KnownLanguage(l Language) bool {
	return l == LangEsAR || l == LangEn
}

// MaxProcessedRequestIDs bounds the idempotency window per conversation.
// Oldest entries are evicted first.
const MaxProcessedRequestIDs = 32

// User is the partial identity captured during onboarding. Only a sanitized
// display name is stored; masking for the wire happens at the edges.
type User struct {
	Name string `json:"name,omitempty"`
}

// Context is the conversation's working memory, mutated turn by turn.
type Context struct {
	DeviceCategory        string   `json:"device_category,omitempty"` // "main" or "external"
	DeviceType            string   `json:"device_type,omitempty"`     // notebook, desktop, printer, ...
	Problem               string   `json:"problem,omitempty"`
	ProblemCategory       string   `json:"problem_category,omitempty"` // classifier intent
	RiskLevel             string   `json:"risk_level,omitempty"`
	LastStep              string   `json:"last_step,omitempty"`
	PrevSteps             []string `json:"prev_steps,omitempty"` // shortened, newest last
	ClarificationAttempts int      `json:"clarification_attempts,omitempty"`
	DiagnosticAttempts    int      `json:"diagnostic_attempts,omitempty"`
	RiskSummaryShown      bool     `json:"impact_summary_shown,omitempty"`
	ConnectivityStep      string   `json:"connectivity_step,omitempty"`
	ConnectivityRetries   int      `json:"connectivity_retries,omitempty"`
	GuidedStoryStep       int      `json:"guided_story_step,omitempty"`
	LastEmotion           string   `json:"last_emotion,omitempty"`
	LastButtonResult      string   `json:"last_button_result,omitempty"`
	SuspendedStage        Stage    `json:"suspended_stage,omitempty"` // set while free-form Q&A interrupts the flow
}

// Modes are cross-cutting toggles suggested by the classifier or chosen by
// the user.
type Modes struct {
	EmotionalReleaseUsed bool   `json:"emotional_release_used,omitempty"`
	AdvisoryMode         bool   `json:"advisory_mode,omitempty"`
	TechFormat           bool   `json:"tech_format,omitempty"`
	InteractionMode      string `json:"interaction_mode,omitempty"` // guided or autonomous
	LearningDepth        string `json:"learning_depth,omitempty"`   // just_fix or explain
	ExecutorRole         string `json:"executor_role,omitempty"`    // self or helper
}

// StoredReply is the bot response persisted per request id so a duplicate
// POST can be answered byte-equal without re-running the turn.
type StoredReply struct {
	Stage   Stage    `json:"stage"`
	Reply   string   `json:"reply"`
	Buttons []Button `json:"buttons,omitempty"`
	End     bool     `json:"end,omitempty"`
}

// Conversation is the durable per-conversation record. The transcript is
// append-only; every other field is working state replaced on save.
type Conversation struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"` // client continuity before an ID is assigned
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	FlowVersion    string    `json:"flow_version"`
	SchemaVersion  string    `json:"schema_version"`

	Language  Language  `json:"language"`
	Status    Status    `json:"status"`
	Feedback  Feedback  `json:"feedback"`
	User      User      `json:"user"`
	UserLevel UserLevel `json:"user_level,omitempty"`
	Stage     Stage     `json:"stage"`

	Context Context `json:"context"`
	Modes   Modes   `json:"modes"`

	// LegacyIncompatible marks records written by an unknown future schema;
	// new turns on such a record route to a cold-start flow.
	LegacyIncompatible bool `json:"legacy_incompatible,omitempty"`

	ProcessedRequestIDs []string               `json:"processed_request_ids,omitempty"`
	StoredReplies       map[string]StoredReply `json:"stored_replies,omitempty"`

	Transcript []TranscriptEvent `json:"transcript"`
}

// NewConversation creates an open record at ASK_CONSENT. No conversation ID
// is assigned yet; that happens on language selection.
func NewConversation(sessionID string, now time.Time) *Conversation {
	return &Conversation{
		SessionID:     sessionID,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
		FlowVersion:   CurrentFlowVersion,
		SchemaVersion: CurrentSchemaVersion,
		Language:      DefaultLanguage,
		Status:        StatusOpen,
		Feedback:      FeedbackNone,
		Stage:         StageAskConsent,
		Transcript:    []TranscriptEvent{},
	}
}

// Append adds an event to the transcript with a server-assigned timestamp
// clamped to be non-decreasing relative to the previous entry.
func (c *Conversation) Append(ev TranscriptEvent) {
	now := time.Now().UTC()
	if n := len(c.Transcript); n > 0 && now.Before(c.Transcript[n-1].T) {
		now = c.Transcript[n-1].T
	}
	ev.T = now
	c.Transcript = append(c.Transcript, ev)
	c.UpdatedAt = now
}

// SeenRequest reports whether the request id was already processed and, if a
// stored reply exists, returns it for byte-equal replay.
func (c *Conversation) SeenRequest(requestID string) (StoredReply, bool) {
	if requestID == "" {
		return StoredReply{}, false
	}
	for _, id := range c.ProcessedRequestIDs {
		if id == requestID {
			r, ok := c.StoredReplies[requestID]
			return r, ok
		}
	}
	return StoredReply{}, false
}

// MarkProcessed records a request id with its reply, evicting the oldest
// entry beyond the bounded window.
func (c *Conversation) MarkProcessed(requestID string, reply StoredReply) {
	if requestID == "" {
		return
	}
	if c.StoredReplies == nil {
		c.StoredReplies = make(map[string]StoredReply)
	}
	c.ProcessedRequestIDs = append(c.ProcessedRequestIDs, requestID)
	c.StoredReplies[requestID] = reply
	for len(c.ProcessedRequestIDs) > MaxProcessedRequestIDs {
		evicted := c.ProcessedRequestIDs[0]
		c.ProcessedRequestIDs = c.ProcessedRequestIDs[1:]
		delete(c.StoredReplies, evicted)
	}
}

// Clone returns a deep copy. Cache entries are never pointer-shared with
// in-flight handlers: read, clone, mutate, write.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Transcript = make([]TranscriptEvent, len(c.Transcript))
	copy(out.Transcript, c.Transcript)
	for i, ev := range out.Transcript {
		if len(ev.Buttons) > 0 {
			b := make([]Button, len(ev.Buttons))
			copy(b, ev.Buttons)
			out.Transcript[i].Buttons = b
		}
		if len(ev.Payload) > 0 {
			p := make(map[string]any, len(ev.Payload))
			for k, v := range ev.Payload {
				p[k] = v
			}
			out.Transcript[i].Payload = p
		}
	}
	out.ProcessedRequestIDs = append([]string(nil), c.ProcessedRequestIDs...)
	if c.StoredReplies != nil {
		out.StoredReplies = make(map[string]StoredReply, len(c.StoredReplies))
		for k, v := range c.StoredReplies {
			if len(v.Buttons) > 0 {
				b := make([]Button, len(v.Buttons))
				copy(b, v.Buttons)
				v.Buttons = b
			}
			out.StoredReplies[k] = v
		}
	}
	if len(c.Context.PrevSteps) > 0 {
		out.Context.PrevSteps = append([]string(nil), c.Context.PrevSteps...)
	}
	return &out
}
