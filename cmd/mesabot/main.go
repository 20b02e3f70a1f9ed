// Mesabot support server. Serves the chat widget endpoints, drives the
// conversation engine, and persists every record under the data root.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ayudatec/mesabot/pkg/api"
	"github.com/ayudatec/mesabot/pkg/config"
	"github.com/ayudatec/mesabot/pkg/images"
	"github.com/ayudatec/mesabot/pkg/llm"
	"github.com/ayudatec/mesabot/pkg/observe"
	"github.com/ayudatec/mesabot/pkg/services"
	"github.com/ayudatec/mesabot/pkg/store"
	"github.com/ayudatec/mesabot/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func main() {
	// Load .env before reading any configuration; a missing file is fine
	// in containerized deployments where the environment is injected.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}
	setupLogging()

	slog.Info("Starting mesabot", "version", version.Full())

	// 1. Configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Durable stores under the data root
	conversationStore, err := store.NewConversationStore(filepath.Join(cfg.DataRoot, "conversations"))
	if err != nil {
		slog.Error("Failed to open conversation store", "error", err)
		os.Exit(1)
	}
	ticketStore, err := store.NewTicketStore(filepath.Join(cfg.DataRoot, "tickets"))
	if err != nil {
		slog.Error("Failed to open ticket store", "error", err)
		os.Exit(1)
	}
	// The reserver reclaims an orphaned ID lock left by a crash.
	reserver, err := store.NewIDReserver(filepath.Join(cfg.DataRoot, "ids"), cfg.Limits.IDLockTTL)
	if err != nil {
		slog.Error("Failed to open ID reserver", "error", err)
		os.Exit(1)
	}
	intake, err := images.NewIntake(filepath.Join(cfg.DataRoot, "uploads"),
		cfg.Limits.UploadMaxBytes, cfg.PublicBaseURL)
	if err != nil {
		slog.Error("Failed to open image intake", "error", err)
		os.Exit(1)
	}
	used, err := reserver.UsedCount()
	if err != nil {
		slog.Error("Failed to read ID ledger", "error", err)
		os.Exit(1)
	}
	slog.Info("Stores initialized", "data_root", cfg.DataRoot, "ids_used", used)

	// Optional periodic sweep for a lock left behind by a crashed replica.
	sweepStop := make(chan struct{})
	if cfg.Limits.LockSweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Limits.LockSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					reserver.ReclaimOrphanLock()
				case <-sweepStop:
					return
				}
			}
		}()
	}

	// 3. LLM gateway
	provider, err := llm.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}
	metrics := observe.DefaultMetrics()
	gateway := llm.NewGateway(provider, cfg.LLM, metrics)
	slog.Info("LLM gateway initialized",
		"classifier_model", cfg.LLM.ClassifierModel,
		"step_model", cfg.LLM.StepModel,
		"timeout", cfg.LLM.Timeout)

	// 4. Domain services
	tickets := services.NewTicketService(ticketStore, cfg.Escalation, metrics)
	conversations := services.NewConversationService(cfg, conversationStore,
		store.NewSessionCache(cfg.Limits.SessionCacheSize),
		store.NewLocks(), reserver, gateway, tickets, intake, metrics)
	slog.Info("Services initialized")

	// 5. HTTP server
	server := api.NewServer(cfg, conversations, metrics)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Mesabot started", "port", cfg.Port)

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown, draining in-flight turns
	close(sweepStop)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("Mesabot stopped")
}
