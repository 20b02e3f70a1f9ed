package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayudatec/mesabot/pkg/config"
	"github.com/ayudatec/mesabot/pkg/images"
	"github.com/ayudatec/mesabot/pkg/llm"
	"github.com/ayudatec/mesabot/pkg/models"
	"github.com/ayudatec/mesabot/pkg/services"
	"github.com/ayudatec/mesabot/pkg/store"
)

// scriptProvider replays canned LLM responses in order.
type scriptProvider struct {
	responses []string
	calls     int
}

func (s *scriptProvider) Complete(_ context.Context, _ llm.Request) (string, error) {
	if s.calls >= len(s.responses) {
		return "", errors.New("script exhausted")
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:     "0",
		DataRoot: t.TempDir(),
		LLM:      config.LLMConfig{Timeout: time.Second, ClassifierModel: "c", StepModel: "s"},
		Limits: config.LimitsConfig{
			ChatPerMinute:     20,
			GreetingPerMinute: 5,
			LLMCallsPerMinute: 3, // the production default

			SessionCacheSize:  32,
			LockWait:          time.Second,
			IDLockTTL:         time.Minute,
			UploadMaxBytes:    1 << 20,
			BodyMaxBytes:      64 << 10,
			ImageBodyMaxBytes: 10 << 20,
		},
		Escalation: config.EscalationConfig{
			ContactNumber:               "5491112345678",
			ContactURLBase:              "https://wa.me/",
			DiagnosticAttemptsThreshold: 2,
		},
		AllowedOrigins: []string{"https://widget.example.com"},
		PublicBaseURL:  "https://soporte.example.com",
		AdminToken:     "hunter2",
	}
}

func newTestServer(t *testing.T, cfg *config.Config, provider llm.Provider) *Server {
	t.Helper()
	s, _ := newTestServerParts(t, cfg, provider)
	return s
}

// newTestServerParts also exposes the lock table so tests can hold a
// conversation's turn lock.
func newTestServerParts(t *testing.T, cfg *config.Config, provider llm.Provider) (*Server, *store.Locks) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	cs, err := store.NewConversationStore(filepath.Join(cfg.DataRoot, "conversations"))
	require.NoError(t, err)
	ts, err := store.NewTicketStore(filepath.Join(cfg.DataRoot, "tickets"))
	require.NoError(t, err)
	reserver, err := store.NewIDReserver(filepath.Join(cfg.DataRoot, "ids"), cfg.Limits.IDLockTTL)
	require.NoError(t, err)
	intake, err := images.NewIntake(filepath.Join(cfg.DataRoot, "uploads"),
		cfg.Limits.UploadMaxBytes, cfg.PublicBaseURL)
	require.NoError(t, err)

	if provider == nil {
		provider = &scriptProvider{}
	}
	locks := store.NewLocks()
	gateway := llm.NewGateway(provider, cfg.LLM, nil)
	tickets := services.NewTicketService(ts, cfg.Escalation, nil)
	conversations := services.NewConversationService(cfg, cs,
		store.NewSessionCache(cfg.Limits.SessionCacheSize),
		locks, reserver, gateway, tickets, intake, nil)

	return NewServer(cfg, conversations, nil), locks
}

func doJSON(t *testing.T, s *Server, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == nil {
		reader = strings.NewReader("")
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) ChatResponse {
	t.Helper()
	var out ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

var reqSeq int

func chatBody(conversationID, sessionID string, fields map[string]string) map[string]string {
	reqSeq++
	body := map[string]string{
		"conversation_id": conversationID,
		"session_id":      sessionID,
		"request_id":      fmt.Sprintf("req-%04d", reqSeq),
	}
	for k, v := range fields {
		body[k] = v
	}
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := doJSON(t, s, http.MethodGet, "/health", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var out HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.Version, "mesabot/")
	assert.Equal(t, "ok", out.Checks.Store)
	// The test config carries no API key, so health reports it.
	assert.Equal(t, "unconfigured", out.Checks.LLM)
	assert.Equal(t, "degraded", out.Status)
}

func TestGreetingAndOnboarding(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/greeting", GreetingRequest{SessionID: "sess-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeChat(t, rec)
	assert.True(t, out.OK)
	assert.Equal(t, models.StageAskConsent, out.Stage)
	assert.Empty(t, out.ConversationID)
	assert.NotEmpty(t, out.Buttons)

	rec = doJSON(t, s, http.MethodPost, "/chat",
		chatBody("", "sess-1", map[string]string{"action": "button", "value": models.BtnConsentYes, "label": "Sí"}), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/chat",
		chatBody("", "sess-1", map[string]string{"action": "button", "value": models.BtnLangEsAR, "label": "Español"}), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out = decodeChat(t, rec)
	assert.Regexp(t, `^[A-Z]{2}[0-9]{4}$`, out.ConversationID)
	assert.Equal(t, models.StageAskName, out.Stage)
}

func networkClassifierJSON() string {
	return `{"intent": "network", "needs_clarification": false, "missing": [], "suggested_next_ask": "", "risk_level": "low", "confidence": 0.9}`
}

func clarifyClassifierJSON() string {
	return `{"intent": "unknown", "needs_clarification": true, "missing": ["device_type"], "suggested_next_ask": "", "risk_level": "low", "confidence": 0.8}`
}

// onboardHTTP walks greeting → consent → language → name → level → device
// over the wire and returns the assigned conversation id.
func onboardHTTP(t *testing.T, s *Server) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/greeting", GreetingRequest{SessionID: "sess-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var id string
	for _, fields := range []map[string]string{
		{"action": "button", "value": models.BtnConsentYes, "label": "Sí"},
		{"action": "button", "value": models.BtnLangEsAR, "label": "Español"},
	} {
		rec = doJSON(t, s, http.MethodPost, "/chat", chatBody(id, "sess-1", fields), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		id = decodeChat(t, rec).ConversationID
	}
	require.Regexp(t, `^[A-Z]{2}[0-9]{4}$`, id)

	for _, fields := range []map[string]string{
		{"text": "Lucas"},
		{"action": "button", "value": models.BtnUserLevelBasic, "label": "Básico"},
		{"action": "button", "value": models.BtnDeviceMain, "label": "Principal"},
		{"text": "notebook"},
	} {
		rec = doJSON(t, s, http.MethodPost, "/chat", chatBody(id, "", fields), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	require.Equal(t, models.StageAskProblem, decodeChat(t, rec).Stage)
	return id
}

func TestOnboardingSurvivesDefaultLLMBudget(t *testing.T) {
	p := &scriptProvider{responses: []string{networkClassifierJSON()}}
	s := newTestServer(t, nil, p)

	// Four deterministic post-id turns plus the classified problem turn,
	// all inside one minute with the default model budget of three.
	id := onboardHTTP(t, s)
	rec := doJSON(t, s, http.MethodPost, "/chat",
		chatBody(id, "", map[string]string{"text": "no tengo internet"}), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StageConnectivityFlow, decodeChat(t, rec).Stage)
}

func TestLLMBudgetSkipsDeterministicStages(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.LLMCallsPerMinute = 1
	p := &scriptProvider{responses: []string{clarifyClassifierJSON()}}
	s := newTestServer(t, cfg, p)
	id := onboardHTTP(t, s)

	rec := doJSON(t, s, http.MethodPost, "/chat",
		chatBody(id, "", map[string]string{"text": "anda mal"}), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.StageAskProblemClarify, decodeChat(t, rec).Stage)

	// The next model-governed turn exceeds the budget of one.
	rec = doJSON(t, s, http.MethodPost, "/chat",
		chatBody(id, "", map[string]string{"text": "la compu"}), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decodeError(t, rec).ErrorCode)
	assert.Equal(t, 1, p.calls, "the rejected turn never reached the gateway")
}

func TestBusyConversationReturns503(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.LockWait = 20 * time.Millisecond
	s, locks := newTestServerParts(t, cfg, nil)

	release, err := locks.Acquire(context.Background(), "AB1234", time.Second)
	require.NoError(t, err)
	defer release()

	rec := doJSON(t, s, http.MethodPost, "/chat",
		chatBody("AB1234", "", map[string]string{"text": "hola"}), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeConflict, decodeError(t, rec).ErrorCode)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestChatValidationEnvelope(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/chat",
		map[string]string{"request_id": "r-1", "text": "hola"},
		map[string]string{"X-Request-ID": "corr-42"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	out := decodeError(t, rec)
	assert.False(t, out.OK)
	assert.Equal(t, CodeValidationFailed, out.ErrorCode)
	assert.Equal(t, "corr-42", out.RequestID)
	assert.Equal(t, "corr-42", rec.Header().Get("X-Request-ID"))
}

func TestChatUnknownConversation(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/chat",
		chatBody("QQ1234", "", map[string]string{"text": "hola"}), nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).ErrorCode)
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidationFailed, decodeError(t, rec).ErrorCode)
}

func TestGreetingRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.GreetingPerMinute = 2
	s := newTestServer(t, cfg, nil)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, s, http.MethodPost, "/greeting", GreetingRequest{SessionID: "sess-1"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := doJSON(t, s, http.MethodPost, "/greeting", GreetingRequest{SessionID: "sess-1"}, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decodeError(t, rec).ErrorCode)
}

func TestBodyTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.ImageBodyMaxBytes = 128
	s := newTestServer(t, cfg, nil)

	rec := doJSON(t, s, http.MethodPost, "/chat",
		chatBody("", "sess-1", map[string]string{"text": strings.Repeat("x", 512)}), nil)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodePayloadTooLarge, decodeError(t, rec).ErrorCode)
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := doJSON(t, s, http.MethodGet, "/trace/AB1234", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, decodeError(t, rec).ErrorCode)

	rec = doJSON(t, s, http.MethodGet, "/trace/AB1234", nil,
		map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct token on a missing conversation reaches the service.
	rec = doJSON(t, s, http.MethodGet, "/trace/AB1234", nil,
		map[string]string{"Authorization": "Bearer hunter2"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdminToken = ""
	s := newTestServer(t, cfg, nil)

	rec := doJSON(t, s, http.MethodGet, "/historial/AB1234", nil,
		map[string]string{"Authorization": "Bearer anything"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImageNotFound(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := doJSON(t, s, http.MethodGet, "/images/AB1234/nope.png", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).ErrorCode)
}

func TestImageAndAdminRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.ChatPerMinute = 2
	s := newTestServer(t, cfg, nil)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, s, http.MethodGet, "/images/AB1234/nope.png", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := doJSON(t, s, http.MethodGet, "/images/AB1234/nope.png", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decodeError(t, rec).ErrorCode)

	// The admin routes share the same per-IP budget, checked before auth.
	rec = doJSON(t, s, http.MethodGet, "/trace/AB1234", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://widget.example.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://widget.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
