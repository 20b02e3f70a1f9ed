package api

import (
	"github.com/ayudatec/mesabot/pkg/models"
	"github.com/ayudatec/mesabot/pkg/services"
)

// ChatResponse is returned by POST /greeting, POST /chat, and GET
// /resume/:id. The buttons slice is always present, empty when the turn is
// free-text only.
type ChatResponse struct {
	OK             bool                `json:"ok"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Stage          models.Stage        `json:"stage"`
	Reply          string              `json:"reply"`
	Buttons        []models.Button     `json:"buttons"`
	End            bool                `json:"end"`
	Ticket         *services.TicketRef `json:"ticket,omitempty"`
	RequestID      string              `json:"request_id,omitempty"`
}

// ErrorResponse is the envelope for every non-2xx reply.
type ErrorResponse struct {
	OK           bool   `json:"ok"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Checks  HealthChecks `json:"checks"`
}

// HealthChecks reports per-component health.
type HealthChecks struct {
	Store string `json:"store"`
	LLM   string `json:"llm"`
}

// TraceResponse is returned by GET /trace/:id.
type TraceResponse struct {
	ConversationID string                   `json:"conversation_id"`
	Events         []models.TranscriptEvent `json:"events"`
}

func chatResponse(res *services.ChatResult, requestID string) *ChatResponse {
	buttons := res.Buttons
	if buttons == nil {
		buttons = []models.Button{}
	}
	return &ChatResponse{
		OK:             true,
		ConversationID: res.ConversationID,
		Stage:          res.Stage,
		Reply:          res.Reply,
		Buttons:        buttons,
		End:            res.End,
		Ticket:         res.Ticket,
		RequestID:      requestID,
	}
}
