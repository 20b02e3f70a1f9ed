package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// requireAdmin guards the operator endpoints with a bearer token. When no
// token is configured the endpoints are disabled outright.
func (s *Server) requireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			token := s.cfg.AdminToken
			if token == "" {
				return s.writeErrorCode(c, http.StatusUnauthorized,
					CodeUnauthorized, "admin endpoints are disabled")
			}
			got := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return s.writeErrorCode(c, http.StatusUnauthorized,
					CodeUnauthorized, "invalid or missing admin token")
			}
			return next(c)
		}
	}
}
