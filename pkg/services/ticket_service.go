package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ayudatec/mesabot/pkg/config"
	"github.com/ayudatec/mesabot/pkg/masking"
	"github.com/ayudatec/mesabot/pkg/models"
	"github.com/ayudatec/mesabot/pkg/observe"
	"github.com/ayudatec/mesabot/pkg/store"
)

// problemSummaryRunes caps the one-line problem summary embedded in the
// contact deep-link.
const problemSummaryRunes = 120

// TicketService emits human-handover tickets. One ticket per conversation:
// a second escalation returns the existing record unchanged.
type TicketService struct {
	store   *store.TicketStore
	cfg     config.EscalationConfig
	metrics *observe.Metrics
}

// NewTicketService creates the ticket service.
func NewTicketService(ts *store.TicketStore, cfg config.EscalationConfig, metrics *observe.Metrics) *TicketService {
	return &TicketService{store: ts, cfg: cfg, metrics: metrics}
}

// Escalate creates (or returns) the ticket for a conversation. created
// reports whether this call minted it.
func (s *TicketService) Escalate(ctx context.Context, conv *models.Conversation, reason string) (*models.Ticket, bool, error) {
	if conv.ConversationID == "" {
		return nil, false, NewValidationError("conversation_id", "cannot escalate before an ID is assigned")
	}

	ticket := &models.Ticket{
		ConversationID:    conv.ConversationID,
		CreatedAt:         time.Now().UTC(),
		User:              models.User{Name: masking.MaskName(conv.User.Name)},
		Problem:           problemSummary(conv),
		Reason:            reason,
		TranscriptPointer: fmt.Sprintf("conversations/%s.json", conv.ConversationID),
		ContactURL:        s.ContactURL(conv),
	}

	ticket, created, err := s.store.Create(ticket)
	if err != nil {
		return nil, false, fmt.Errorf("create ticket: %w", err)
	}
	if created {
		s.metrics.CountEscalation(ctx, reason)
		observe.Logger(ctx).Info("Conversation escalated",
			"conversation_id", conv.ConversationID, "reason", reason)
	}
	return ticket, created, nil
}

// Get returns the ticket for a conversation, or ErrNotFound.
func (s *TicketService) Get(conversationID string) (*models.Ticket, error) {
	t, err := s.store.Get(conversationID)
	if err != nil {
		return nil, ErrNotFound
	}
	return t, nil
}

// ContactURL builds the external messaging deep-link: the configured base
// plus the number plus a URL-encoded message carrying the masked name, the
// conversation ID, and a one-line problem summary.
func (s *TicketService) ContactURL(conv *models.Conversation) string {
	body := fmt.Sprintf("Hola, soy %s. Conversación %s. Problema: %s",
		masking.MaskName(conv.User.Name), conv.ConversationID, problemSummary(conv))
	return s.cfg.ContactURLBase + s.cfg.ContactNumber + "?text=" + url.QueryEscape(body)
}

func problemSummary(conv *models.Conversation) string {
	p := masking.MaskText(conv.Context.Problem)
	if p == "" {
		p = conv.Context.ProblemCategory
	}
	if p == "" {
		p = "sin descripción"
	}
	r := []rune(p)
	if len(r) > problemSummaryRunes {
		p = string(r[:problemSummaryRunes-1]) + "…"
	}
	return p
}
