package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// traceHandler handles GET /trace/:id, the forensic view: only the system
// events of a conversation record.
func (s *Server) traceHandler(c *echo.Context) error {
	id := c.Param("id")
	events, err := s.conversations.Trace(id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, &TraceResponse{ConversationID: id, Events: events})
}

// historyHandler handles GET /historial/:id, the full conversation record.
func (s *Server) historyHandler(c *echo.Context) error {
	conv, err := s.conversations.Export(c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}
