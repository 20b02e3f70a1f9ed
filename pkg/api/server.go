package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/ayudatec/mesabot/pkg/config"
	"github.com/ayudatec/mesabot/pkg/observe"
	"github.com/ayudatec/mesabot/pkg/services"
)

// Server wires the HTTP surface: the public widget endpoints, the image
// fetch path, and the token-guarded operator endpoints.
type Server struct {
	cfg           *config.Config
	conversations *services.ConversationService
	metrics       *observe.Metrics

	echo *echo.Echo
	http *http.Server

	chatGate     *rateGate
	greetingGate *rateGate
	llmGate      *rateGate
}

// NewServer builds the server and registers all routes.
func NewServer(cfg *config.Config, conversations *services.ConversationService, metrics *observe.Metrics) *Server {
	s := &Server{
		cfg:           cfg,
		conversations: conversations,
		metrics:       metrics,
		echo:          echo.New(),
		chatGate:      newRateGate(cfg.Limits.ChatPerMinute),
		greetingGate:  newRateGate(cfg.Limits.GreetingPerMinute),
		llmGate:       newRateGate(cfg.Limits.LLMCallsPerMinute),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(requestIDMiddleware())
	e.Use(s.timing())
	e.Use(securityHeaders())
	e.Use(cors(s.cfg.AllowedOrigins))

	e.GET("/health", s.healthHandler)

	e.POST("/greeting", s.greetingHandler,
		s.perIPLimit(s.greetingGate, "greeting"),
		s.bodyLimit(s.cfg.Limits.BodyMaxBytes))
	// The chat body cap is the image cap: the payload may carry a
	// base64 screenshot.
	e.POST("/chat", s.chatHandler,
		s.perIPLimit(s.chatGate, "chat"),
		s.bodyLimit(s.cfg.Limits.ImageBodyMaxBytes))
	e.GET("/resume/:id", s.resumeHandler,
		s.perIPLimit(s.chatGate, "resume"))

	e.GET("/images/:id/:file", s.imageHandler,
		s.perIPLimit(s.chatGate, "images"))

	e.GET("/trace/:id", s.traceHandler,
		s.perIPLimit(s.chatGate, "trace"), s.requireAdmin())
	e.GET("/historial/:id", s.historyHandler,
		s.perIPLimit(s.chatGate, "historial"), s.requireAdmin())
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	slog.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
