package api

import (
	"net/http"
	"os"
	"path/filepath"

	echo "github.com/labstack/echo/v5"

	"github.com/ayudatec/mesabot/pkg/version"
)

// healthHandler handles GET /health. The store check actually touches the
// data root; "degraded" still answers 200 so load balancers keep routing
// while operators see the failing component.
func (s *Server) healthHandler(c *echo.Context) error {
	checks := HealthChecks{Store: "ok", LLM: "ok"}
	status := "ok"

	probe := filepath.Join(s.cfg.DataRoot, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		checks.Store = "unwritable"
		status = "degraded"
	} else {
		_ = os.Remove(probe)
	}
	if s.cfg.LLM.APIKey == "" {
		checks.LLM = "unconfigured"
		status = "degraded"
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
