package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/ayudatec/mesabot/pkg/flow"
	"github.com/ayudatec/mesabot/pkg/services"
)

// greetingHandler handles POST /greeting.
func (s *Server) greetingHandler(c *echo.Context) error {
	var req GreetingRequest
	if err := c.Bind(&req); err != nil {
		return s.writeErrorCode(c, http.StatusBadRequest, CodeValidationFailed, "malformed request body")
	}

	res, err := s.conversations.Greeting(c.Request().Context(), req.SessionID)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, chatResponse(res, requestID(c)))
}

// chatHandler handles POST /chat.
func (s *Server) chatHandler(c *echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return s.writeErrorCode(c, http.StatusBadRequest, CodeValidationFailed, "malformed request body")
	}

	// The model budget is per conversation, not per IP: a single widget
	// cannot monopolize the upstream gateway however fast it clicks. Only
	// turns that can actually reach the gateway debit it; deterministic
	// stages click through freely.
	if key := req.ConversationID; key != "" && s.stageUsesLLM(key) {
		if !s.llmGate.Allow(key) {
			s.metrics.CountRateLimited(c.Request().Context(), "chat_llm")
			return s.writeErrorCode(c, http.StatusTooManyRequests,
				CodeRateLimited, "too many turns for this conversation, slow down")
		}
	}

	res, err := s.conversations.Chat(c.Request().Context(), services.ChatRequest{
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
		RequestID:      req.RequestID,
		Text:           req.Text,
		Action:         req.Action,
		Value:          req.Value,
		Label:          req.Label,
		ImageBase64:    req.ImageBase64,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, chatResponse(res, req.RequestID))
}

// stageUsesLLM reports whether the conversation's current stage is governed
// by the model pipeline.
func (s *Server) stageUsesLLM(conversationID string) bool {
	stage, ok := s.conversations.PeekStage(conversationID)
	if !ok {
		return false
	}
	contract, ok := flow.ContractFor(stage)
	return ok && contract.Kind == flow.LLMGoverned
}

// resumeHandler handles GET /resume/:id for returning users.
func (s *Server) resumeHandler(c *echo.Context) error {
	res, err := s.conversations.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, chatResponse(res, requestID(c)))
}
