package services

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayudatec/mesabot/pkg/config"
	"github.com/ayudatec/mesabot/pkg/models"
	"github.com/ayudatec/mesabot/pkg/store"
)

func newTestTicketService(t *testing.T) *TicketService {
	t.Helper()
	ts, err := store.NewTicketStore(filepath.Join(t.TempDir(), "tickets"))
	require.NoError(t, err)
	return NewTicketService(ts, config.EscalationConfig{
		ContactNumber:               "5491112345678",
		ContactURLBase:              "https://wa.me/",
		DiagnosticAttemptsThreshold: 2,
	}, nil)
}

func escalatableConversation() *models.Conversation {
	conv := models.NewConversation("sess-1", time.Now())
	conv.ConversationID = "AB1234"
	conv.User.Name = "Lucas García"
	conv.Context.Problem = "no tengo internet en la notebook"
	return conv
}

func TestEscalateBuildsDeepLink(t *testing.T) {
	s := newTestTicketService(t)
	conv := escalatableConversation()

	ticket, created, err := s.Escalate(context.Background(), conv, models.ReasonUserRequested)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "AB1234", ticket.ConversationID)
	assert.Equal(t, models.ReasonUserRequested, ticket.Reason)
	assert.Equal(t, "Lucas G.", ticket.User.Name, "name is masked on the ticket")

	require.True(t, strings.HasPrefix(ticket.ContactURL, "https://wa.me/5491112345678?text="))
	u, err := url.Parse(ticket.ContactURL)
	require.NoError(t, err)
	body := u.Query().Get("text")
	assert.Contains(t, body, "Hola, soy Lucas G.")
	assert.Contains(t, body, "Conversación AB1234")
	assert.Contains(t, body, "no tengo internet")
}

func TestEscalateIsIdempotent(t *testing.T) {
	s := newTestTicketService(t)
	conv := escalatableConversation()

	first, created, err := s.Escalate(context.Background(), conv, models.ReasonUserRequested)
	require.NoError(t, err)
	require.True(t, created)

	// A second attempt with a different reason returns the original.
	second, created, err := s.Escalate(context.Background(), conv, models.ReasonRiskDetected)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Reason, second.Reason)
	assert.Equal(t, first.ContactURL, second.ContactURL)
}

func TestEscalateWithoutIDFails(t *testing.T) {
	s := newTestTicketService(t)
	conv := models.NewConversation("sess-1", time.Now())

	_, _, err := s.Escalate(context.Background(), conv, models.ReasonUserRequested)
	assert.True(t, IsValidationError(err))
}

func TestProblemSummaryMasksAndTruncates(t *testing.T) {
	conv := escalatableConversation()
	conv.Context.Problem = "mi mail es lucas@example.com y " + strings.Repeat("x", 200)

	got := problemSummary(conv)
	assert.NotContains(t, got, "lucas@example.com")
	assert.LessOrEqual(t, len([]rune(got)), 120)
}
