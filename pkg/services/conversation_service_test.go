package services

import (
	"context"
	"errors"
	"fmt"
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

func networkClassifierJSON() string {
	return `{"intent": "network", "needs_clarification": false, "missing": [], "suggested_next_ask": "", "risk_level": "low", "confidence": 0.9}`
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:     "3001",
		DataRoot: t.TempDir(),
		LLM:      config.LLMConfig{Timeout: time.Second, ClassifierModel: "c", StepModel: "s"},
		Limits: config.LimitsConfig{
			SessionCacheSize: 32,
			LockWait:         time.Second,
			IDLockTTL:        time.Minute,
			UploadMaxBytes:   1 << 20,
		},
		Escalation: config.EscalationConfig{
			ContactNumber:               "5491112345678",
			ContactURLBase:              "https://wa.me/",
			DiagnosticAttemptsThreshold: 2,
		},
		PublicBaseURL: "https://soporte.example.com",
	}
}

func newTestIntake(t *testing.T, cfg *config.Config) (*images.Intake, error) {
	t.Helper()
	return images.NewIntake(filepath.Join(cfg.DataRoot, "uploads"),
		cfg.Limits.UploadMaxBytes, cfg.PublicBaseURL)
}

func newTestService(t *testing.T, provider llm.Provider) *ConversationService {
	t.Helper()
	return newTestServiceWith(t, testConfig(t), provider)
}

func newTestServiceWith(t *testing.T, cfg *config.Config, provider llm.Provider) *ConversationService {
	t.Helper()

	cs, err := store.NewConversationStore(filepath.Join(cfg.DataRoot, "conversations"))
	require.NoError(t, err)
	ts, err := store.NewTicketStore(filepath.Join(cfg.DataRoot, "tickets"))
	require.NoError(t, err)
	reserver, err := store.NewIDReserver(filepath.Join(cfg.DataRoot, "ids"), cfg.Limits.IDLockTTL)
	require.NoError(t, err)
	intake, err := newTestIntake(t, cfg)
	require.NoError(t, err)

	if provider == nil {
		provider = &scriptProvider{}
	}
	gateway := llm.NewGateway(provider, cfg.LLM, nil)
	tickets := NewTicketService(ts, cfg.Escalation, nil)

	return NewConversationService(cfg, cs, store.NewSessionCache(cfg.Limits.SessionCacheSize),
		store.NewLocks(), reserver, gateway, tickets, intake, nil)
}

// chat is a turn helper; request ids are unique per call.
var reqSeq int

func chat(t *testing.T, s *ConversationService, conversationID, sessionID string, in map[string]string) *ChatResult {
	t.Helper()
	reqSeq++
	req := ChatRequest{
		ConversationID: conversationID,
		SessionID:      sessionID,
		RequestID:      fmt.Sprintf("req-%04d", reqSeq),
		Text:           in["text"],
		Action:         in["action"],
		Value:          in["value"],
		Label:          in["label"],
	}
	res, err := s.Chat(context.Background(), req)
	require.NoError(t, err)
	return res
}

func pressButton(t *testing.T, s *ConversationService, conversationID, sessionID, token string) *ChatResult {
	t.Helper()
	return chat(t, s, conversationID, sessionID, map[string]string{
		"action": "button", "value": token, "label": token,
	})
}

// onboardToProblem walks greeting → consent → language → name → level →
// device and returns the assigned conversation ID.
func onboardToProblem(t *testing.T, s *ConversationService) string {
	t.Helper()
	_, err := s.Greeting(context.Background(), "sess-1")
	require.NoError(t, err)

	pressButton(t, s, "", "sess-1", models.BtnConsentYes)
	res := pressButton(t, s, "", "sess-1", models.BtnLangEsAR)
	require.Regexp(t, `^[A-Z]{2}[0-9]{4}$`, res.ConversationID)
	id := res.ConversationID

	chat(t, s, id, "", map[string]string{"text": "Lucas"})
	pressButton(t, s, id, "", models.BtnUserLevelBasic)
	pressButton(t, s, id, "", models.BtnDeviceMain)
	res = chat(t, s, id, "", map[string]string{"text": "notebook"})
	require.Equal(t, models.StageAskProblem, res.Stage)
	return id
}

func TestGreetingIsCreateOrReturn(t *testing.T) {
	s := newTestService(t, nil)

	first, err := s.Greeting(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StageAskConsent, first.Stage)
	assert.Empty(t, first.ConversationID, "no ID before language selection")

	second, err := s.Greeting(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, first.Reply, second.Reply)
}

func TestIDAssignedOnLanguageSelectionAndPersisted(t *testing.T) {
	p := &scriptProvider{responses: []string{networkClassifierJSON()}}
	s := newTestService(t, p)
	id := onboardToProblem(t, s)

	conv, err := s.Export(id)
	require.NoError(t, err)
	assert.Equal(t, id, conv.ConversationID)
	assert.Equal(t, models.LangEsAR, conv.Language)
	assert.Equal(t, "Lucas", conv.User.Name)

	var assigned int
	for _, ev := range conv.Transcript {
		if ev.Name == models.EventConversationIDAssigned {
			assigned++
		}
	}
	assert.Equal(t, 1, assigned, "CONVERSATION_ID_ASSIGNED exists exactly once")
}

func TestChatIdempotentReplay(t *testing.T) {
	p := &scriptProvider{responses: []string{networkClassifierJSON()}}
	s := newTestService(t, p)
	id := onboardToProblem(t, s)

	req := ChatRequest{
		ConversationID: id,
		RequestID:      "dup-1",
		Text:           "no tengo internet",
	}
	first, err := s.Chat(context.Background(), req)
	require.NoError(t, err)

	before, err := s.Export(id)
	require.NoError(t, err)

	second, err := s.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Reply, second.Reply)
	assert.Equal(t, first.Stage, second.Stage)
	assert.Equal(t, first.Buttons, second.Buttons)

	after, err := s.Export(id)
	require.NoError(t, err)
	assert.Equal(t, len(before.Transcript), len(after.Transcript), "duplicate request appends nothing")
	assert.Equal(t, 1, p.calls, "the LLM is not called again")
}

func TestEscalationMintsOneTicket(t *testing.T) {
	p := &scriptProvider{responses: []string{networkClassifierJSON()}}
	s := newTestService(t, p)
	id := onboardToProblem(t, s)

	chat(t, s, id, "", map[string]string{"text": "no tengo internet"})
	pressButton(t, s, id, "", models.BtnWifi)
	pressButton(t, s, id, "", models.BtnNotebook)
	pressButton(t, s, id, "", models.BtnNo)
	pressButton(t, s, id, "", models.BtnPersist)
	res := pressButton(t, s, id, "", models.BtnPersist)

	require.NotNil(t, res.Ticket, "the second persist escalates")
	assert.Equal(t, id, res.Ticket.ConversationID)
	assert.True(t, strings.HasPrefix(res.Ticket.ContactURL, "https://wa.me/5491112345678?text="))
	assert.Contains(t, res.Ticket.ContactURL, id)

	conv, err := s.Export(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalated, conv.Status)

	// Another turn does not mint a second ticket.
	res2 := chat(t, s, id, "", map[string]string{"text": "hola?"})
	require.NotNil(t, res2.Ticket)
	assert.Equal(t, res.Ticket.ContactURL, res2.Ticket.ContactURL)

	// The close button ends the conversation.
	res3 := pressButton(t, s, id, "", models.BtnClose)
	assert.True(t, res3.End)
	conv, err = s.Export(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, conv.Status)
}

func TestExplicitTechnicianRequestEscalates(t *testing.T) {
	p := &scriptProvider{responses: []string{networkClassifierJSON()}}
	s := newTestService(t, p)
	id := onboardToProblem(t, s)
	chat(t, s, id, "", map[string]string{"text": "no tengo internet"})

	res := chat(t, s, id, "", map[string]string{"text": "quiero un tecnico"})
	require.NotNil(t, res.Ticket)

	ticket, err := s.tickets.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonUserRequested, ticket.Reason)
}

func TestResume(t *testing.T) {
	p := &scriptProvider{responses: []string{networkClassifierJSON()}}
	s := newTestService(t, p)
	id := onboardToProblem(t, s)
	chat(t, s, id, "", map[string]string{"text": "no tengo internet"})

	res, err := s.Resume(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StageContextResume, res.Stage)
	assert.NotEmpty(t, res.Reply)

	res = pressButton(t, s, id, "", models.BtnResume)
	assert.Equal(t, models.StageConnectivityFlow, res.Stage)
}

func TestResumeErrors(t *testing.T) {
	s := newTestService(t, nil)

	_, err := s.Resume(context.Background(), "nope")
	assert.True(t, IsValidationError(err))

	_, err = s.Resume(context.Background(), "ZZ9999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChatValidation(t *testing.T) {
	s := newTestService(t, nil)
	tests := []struct {
		name string
		req  ChatRequest
	}{
		{"no ids", ChatRequest{RequestID: "r", Text: "hola"}},
		{"malformed conversation id", ChatRequest{ConversationID: "../x", RequestID: "r", Text: "hola"}},
		{"missing request id", ChatRequest{SessionID: "s", Text: "hola"}},
		{"empty turn", ChatRequest{SessionID: "s", RequestID: "r"}},
		{"button without value", ChatRequest{SessionID: "s", RequestID: "r", Action: "button"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Chat(context.Background(), tt.req)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestChatUnknownConversation(t *testing.T) {
	s := newTestService(t, nil)
	_, err := s.Chat(context.Background(), ChatRequest{
		ConversationID: "QQ1234", RequestID: "r", Text: "hola",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPreIDCacheMissRestartsGreeting(t *testing.T) {
	s := newTestService(t, nil)
	_, err := s.Greeting(context.Background(), "sess-1")
	require.NoError(t, err)

	// Simulate eviction of the pre-ID entry.
	s.cache.Remove(sessionKey("sess-1"))

	res := pressButton(t, s, "", "sess-1", models.BtnConsentYes)
	assert.Empty(t, res.ConversationID)
	assert.Equal(t, models.StageAskLanguage, res.Stage)
}

func TestTinyCacheEvictsOldestSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.SessionCacheSize = 1
	s := newTestServiceWith(t, cfg, nil)

	_, err := s.Greeting(context.Background(), "sess-1")
	require.NoError(t, err)
	_, err = s.Greeting(context.Background(), "sess-2")
	require.NoError(t, err)
	assert.Equal(t, 1, s.cache.Len(), "oldest pre-id session is evicted")

	// The evicted session simply restarts its greeting.
	res, err := s.Greeting(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StageAskConsent, res.Stage)
}

func TestTraceReturnsOnlySystemEvents(t *testing.T) {
	p := &scriptProvider{responses: []string{networkClassifierJSON()}}
	s := newTestService(t, p)
	id := onboardToProblem(t, s)
	chat(t, s, id, "", map[string]string{"text": "no tengo internet"})

	trace, err := s.Trace(id)
	require.NoError(t, err)
	require.NotEmpty(t, trace)
	for _, ev := range trace {
		assert.Equal(t, models.RoleSystem, ev.Role)
	}
}
