// Package config loads and validates service configuration.
//
// All environment reads happen here, once, at startup. The rest of the code
// receives a *Config and never touches os.Getenv — this keeps every tunable
// discoverable in one place and makes handlers trivially testable.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete runtime configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// DataRoot is the root of the persistence tree. Subdirectories
	// (conversations/, tickets/, uploads/, ids/) are created on startup.
	DataRoot string

	LLM        LLMConfig
	Limits     LimitsConfig
	Escalation EscalationConfig

	// AllowedOrigins is the CORS allow-list.
	AllowedOrigins []string

	// PublicBaseURL is this service's externally reachable URL, embedded in
	// upload references and ticket records.
	PublicBaseURL string

	// AdminToken protects the trace and transcript export endpoints.
	AdminToken string
}

// LLMConfig groups the external LLM provider settings.
type LLMConfig struct {
	// APIKey authenticates against the provider. Required when any
	// LLM-governed stage is reachable (i.e. always in production).
	APIKey string

	// BaseURL optionally points at an OpenAI-compatible endpoint.
	BaseURL string

	// ClassifierModel and StepModel select the model per pipeline kind.
	ClassifierModel string
	StepModel       string

	// Timeout is the hard per-call deadline.
	Timeout time.Duration

	// ClassifierTemperature is kept low for deterministic routing;
	// StepTemperature slightly higher for reply variety.
	ClassifierTemperature float64
	StepTemperature       float64

	ClassifierMaxTokens int
	StepMaxTokens       int
}

// LimitsConfig groups rate limits, size caps and concurrency bounds.
type LimitsConfig struct {
	// ChatPerMinute / GreetingPerMinute are per-IP request budgets.
	ChatPerMinute     int
	GreetingPerMinute int

	// LLMCallsPerMinute bounds LLM calls per conversation.
	LLMCallsPerMinute int

	// UploadMaxBytes caps a decoded image upload.
	UploadMaxBytes int64

	// BodyMaxBytes caps a non-image request body.
	BodyMaxBytes int64

	// ImageBodyMaxBytes caps a request body that may carry an image payload.
	ImageBodyMaxBytes int64

	// SessionCacheSize is the LRU capacity of the in-memory session cache.
	SessionCacheSize int

	// LockWait is the bounded wait for a per-conversation mutex.
	LockWait time.Duration

	// IDLockTTL is the age after which an orphaned reservation lock file
	// is reclaimed.
	IDLockTTL time.Duration

	// LockSweepInterval re-runs the orphan reclaim periodically.
	// Zero disables the sweeper; startup reclaim always runs.
	LockSweepInterval time.Duration
}

// EscalationConfig groups the human-handover settings.
type EscalationConfig struct {
	// ContactNumber is the E.164 number of the external messaging channel.
	ContactNumber string

	// ContactURLBase is the deep-link prefix, e.g. "https://wa.me/".
	ContactURLBase string

	// DiagnosticAttemptsThreshold is the number of failed diagnostic steps
	// after which the conversation is handed over.
	DiagnosticAttemptsThreshold int
}

// Load reads the full configuration from the environment.
// Call Validate afterwards; Load itself never fails on missing values so
// that tests can construct partial configs.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "3001"),
		DataRoot: getEnv("DATA_ROOT", "./data"),
		LLM: LLMConfig{
			APIKey:                os.Getenv("LLM_API_KEY"),
			BaseURL:               os.Getenv("LLM_BASE_URL"),
			ClassifierModel:       getEnv("LLM_MODEL_CLASSIFIER", "gpt-4o-mini"),
			StepModel:             getEnv("LLM_MODEL_STEP", "gpt-4o-mini"),
			Timeout:               getEnvMillis("LLM_TIMEOUT_MS", 12000),
			ClassifierTemperature: getEnvFloat("LLM_TEMPERATURE_CLASSIFIER", 0.2),
			StepTemperature:       getEnvFloat("LLM_TEMPERATURE_STEP", 0.3),
			ClassifierMaxTokens:   getEnvInt("LLM_MAX_TOKENS_CLASSIFIER", 450),
			StepMaxTokens:         getEnvInt("LLM_MAX_TOKENS_STEP", 900),
		},
		Limits: LimitsConfig{
			ChatPerMinute:     getEnvInt("RATE_CHAT_PER_MINUTE", 20),
			GreetingPerMinute: getEnvInt("RATE_GREETING_PER_MINUTE", 5),
			LLMCallsPerMinute: getEnvInt("RATE_LLM_PER_MINUTE", 3),
			UploadMaxBytes:    getEnvInt64("UPLOAD_MAX_BYTES", 5<<20),
			BodyMaxBytes:      64 << 10,
			ImageBodyMaxBytes: 10 << 20,
			SessionCacheSize:  getEnvInt("SESSION_CACHE_SIZE", 512),
			LockWait:          getEnvMillis("LOCK_WAIT_MS", 2000),
			IDLockTTL:         getEnvMillis("LOCK_TTL_MS", 60000),
			LockSweepInterval: getEnvMillis("LOCK_SWEEP_MS", 0),
		},
		Escalation: EscalationConfig{
			ContactNumber:               os.Getenv("CONTACT_NUMBER"),
			ContactURLBase:              getEnv("CONTACT_URL_BASE", "https://wa.me/"),
			DiagnosticAttemptsThreshold: getEnvInt("DIAG_ATTEMPTS_THRESHOLD", 2),
		},
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "https://example.com")),
		PublicBaseURL:  os.Getenv("PUBLIC_BASE_URL"),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
	}
}

// Validate checks that all values required at startup are present and sane.
func (c *Config) Validate() error {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if c.Escalation.ContactNumber == "" {
		missing = append(missing, "CONTACT_NUMBER")
	}
	if c.Escalation.ContactURLBase == "" {
		missing = append(missing, "CONTACT_URL_BASE")
	}
	if c.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if c.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if _, err := url.Parse(c.Escalation.ContactURLBase); err != nil {
		return fmt.Errorf("invalid CONTACT_URL_BASE: %w", err)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_MS must be positive, got %v", c.LLM.Timeout)
	}
	if c.Escalation.DiagnosticAttemptsThreshold < 1 {
		return fmt.Errorf("DIAG_ATTEMPTS_THRESHOLD must be at least 1")
	}
	if c.Limits.SessionCacheSize < 1 {
		return fmt.Errorf("SESSION_CACHE_SIZE must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMillis)) * time.Millisecond
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
