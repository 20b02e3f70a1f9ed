package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/ayudatec/mesabot/pkg/llm"
	"github.com/ayudatec/mesabot/pkg/observe"
	"github.com/ayudatec/mesabot/pkg/services"
)

// Error codes form a closed enum; clients switch on error_code, never on
// the message text.
const (
	CodeValidationFailed = "validation_failed"
	CodeRateLimited      = "rate_limited"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeInternalError    = "internal_error"
	CodeUnauthorized     = "unauthorized"
	CodePayloadTooLarge  = "payload_too_large"
	CodeLLMTimeout       = "llm_timeout"
	CodeLLMInvalidOutput = "llm_invalid_output"
)

// writeError maps a service-layer error to the envelope and writes it.
func (s *Server) writeError(c *echo.Context, err error) error {
	status, code, msg := classifyError(err)
	if status == http.StatusInternalServerError {
		observe.Logger(c.Request().Context()).Error("Unexpected service error", "error", err)
	}
	if errors.Is(err, services.ErrBusy) {
		// The per-conversation lock frees within its bounded wait.
		c.Response().Header().Set("Retry-After", "1")
	}
	return s.writeErrorCode(c, status, code, msg)
}

func (s *Server) writeErrorCode(c *echo.Context, status int, code, msg string) error {
	return c.JSON(status, &ErrorResponse{
		ErrorCode:    code,
		ErrorMessage: msg,
		RequestID:    requestID(c),
	})
}

func classifyError(err error) (status int, code, msg string) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		return http.StatusBadRequest, CodeValidationFailed, validErr.Error()
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "resource not found"
	case errors.Is(err, services.ErrBusy):
		return http.StatusServiceUnavailable, CodeConflict, "another turn for this conversation is in flight; retry shortly"
	case errors.Is(err, services.ErrConversationClosed):
		return http.StatusConflict, CodeConflict, "conversation is closed"
	case errors.Is(err, llm.ErrTimeout):
		return http.StatusGatewayTimeout, CodeLLMTimeout, "assistant timed out"
	case errors.Is(err, llm.ErrInvalidJSON), errors.Is(err, llm.ErrSchema):
		return http.StatusBadGateway, CodeLLMInvalidOutput, "assistant produced invalid output"
	default:
		// services.ErrCorrupted lands here too: the record is unusable and
		// only an operator can repair it.
		return http.StatusInternalServerError, CodeInternalError, "internal server error"
	}
}
