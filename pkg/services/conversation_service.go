package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayudatec/mesabot/pkg/config"
	"github.com/ayudatec/mesabot/pkg/flow"
	"github.com/ayudatec/mesabot/pkg/images"
	"github.com/ayudatec/mesabot/pkg/llm"
	"github.com/ayudatec/mesabot/pkg/models"
	"github.com/ayudatec/mesabot/pkg/observe"
	"github.com/ayudatec/mesabot/pkg/store"
)

// ChatRequest is one /chat turn as received from the widget.
type ChatRequest struct {
	ConversationID string
	SessionID      string
	RequestID      string
	Text           string
	Action         string // "button" when Value/Label carry a press
	Value          string
	Label          string
	ImageBase64    string
}

// TicketRef is the slice of the ticket exposed on the wire.
type TicketRef struct {
	ConversationID string `json:"conversation_id"`
	ContactURL     string `json:"contact_url"`
}

// ChatResult is the service's side of one turn.
type ChatResult struct {
	ConversationID string
	Stage          models.Stage
	Reply          string
	Buttons        []models.Button
	End            bool
	Ticket         *TicketRef
}

// ConversationService owns the request path: per-conversation locking,
// cache-through loading, idempotent replay, engine dispatch, escalation,
// and write-through persistence.
type ConversationService struct {
	cfg     *config.Config
	engine  *flow.Engine
	store   *store.ConversationStore
	cache   *store.SessionCache
	locks   *store.Locks
	tickets *TicketService
	intake  *images.Intake
	metrics *observe.Metrics
}

// NewConversationService wires the conversation service. The engine is
// built here so the ID reserver stays an implementation detail.
func NewConversationService(
	cfg *config.Config,
	cs *store.ConversationStore,
	cache *store.SessionCache,
	locks *store.Locks,
	reserver *store.IDReserver,
	gateway *llm.Gateway,
	tickets *TicketService,
	intake *images.Intake,
	metrics *observe.Metrics,
) *ConversationService {
	s := &ConversationService{
		cfg:     cfg,
		store:   cs,
		cache:   cache,
		locks:   locks,
		tickets: tickets,
		intake:  intake,
		metrics: metrics,
	}
	s.engine = flow.NewEngine(gateway, cfg, metrics, reserver.Reserve)
	// Every insertion increments the gauge (see persist and Greeting), so
	// eviction and removal must decrement it to keep residency honest.
	cache.SetEvictionHook(func(string) {
		s.metrics.AddActiveConversations(context.Background(), -1)
	})
	return s
}

// timeNow is swapped in tests for deterministic timestamps.
var timeNow = time.Now

// sessionKey namespaces pre-ID cache entries so they can never collide
// with a conversation ID.
func sessionKey(sessionID string) string { return "sid:" + sessionID }

// Greeting creates (or returns) the opening turn for a client session.
// Conversations exist only in the session cache until an ID is assigned on
// language selection; a cache miss simply restarts the greeting.
func (s *ConversationService) Greeting(ctx context.Context, sessionID string) (*ChatResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, NewValidationError("session_id", "must not be empty")
	}
	key := sessionKey(sessionID)
	release, err := s.locks.Acquire(ctx, key, s.cfg.Limits.LockWait)
	if err != nil {
		return nil, ErrBusy
	}
	defer release()

	conv, ok := s.cache.Get(key)
	if !ok {
		conv = models.NewConversation(sessionID, timeNow())
	}

	out := s.engine.Greeting(conv)
	if len(conv.Transcript) == 0 {
		conv.Append(models.NewBotButtons(out.Reply, out.Buttons))
	}
	if s.cache.Put(key, conv) {
		s.metrics.AddActiveConversations(ctx, 1)
	}

	return &ChatResult{
		Stage:   conv.Stage,
		Reply:   out.Reply,
		Buttons: out.Buttons,
	}, nil
}

// Chat advances one turn. The whole mutation happens under the
// per-conversation lock; on handler failure the turn's output is not
// persisted but the trace appended so far is.
func (s *ConversationService) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	key := req.ConversationID
	if key == "" {
		key = sessionKey(req.SessionID)
	}
	release, err := s.locks.Acquire(ctx, key, s.cfg.Limits.LockWait)
	if err != nil {
		return nil, ErrBusy
	}
	defer release()

	conv, err := s.load(key, req)
	if err != nil {
		return nil, err
	}

	// Idempotent replay: a request id we already processed returns the
	// stored response unchanged, with zero new transcript events.
	if stored, ok := conv.SeenRequest(req.RequestID); ok {
		return &ChatResult{
			ConversationID: conv.ConversationID,
			Stage:          stored.Stage,
			Reply:          stored.Reply,
			Buttons:        stored.Buttons,
			End:            stored.End,
			Ticket:         s.ticketRef(conv),
		}, nil
	}

	in := flow.Input{Text: req.Text}
	if req.Action == "button" {
		in = flow.Input{ButtonToken: req.Value, ButtonLabel: req.Label}
		conv.Append(models.NewUserButton(req.Value, req.Label))
	} else {
		conv.Append(models.NewUserText(req.Text))
	}

	if req.ImageBase64 != "" {
		if err := s.attachImage(conv, req.ImageBase64); err != nil {
			return nil, err
		}
	}

	result, err := s.advance(ctx, conv, in)
	if err != nil {
		// Persist the attempt's trace without the turn's output.
		s.persist(ctx, key, conv)
		return nil, err
	}

	conv.Append(models.NewBotButtons(result.Reply, result.Buttons))
	conv.MarkProcessed(req.RequestID, models.StoredReply{
		Stage:   conv.Stage,
		Reply:   result.Reply,
		Buttons: result.Buttons,
		End:     result.End,
	})
	if err := s.persist(ctx, key, conv); err != nil {
		return nil, err
	}

	result.ConversationID = conv.ConversationID
	result.Stage = conv.Stage
	return result, nil
}

// advance runs the engine and owns the escalated/closed gates.
func (s *ConversationService) advance(ctx context.Context, conv *models.Conversation, in flow.Input) (*ChatResult, error) {
	switch conv.Status {
	case models.StatusEscalated:
		if in.ButtonToken == models.BtnClose {
			conv.Status = models.StatusClosed
			conv.Stage = models.StageEnded
			return &ChatResult{Reply: flow.P(conv.Language).Goodbye, End: true, Ticket: s.ticketRef(conv)}, nil
		}
		ticket, err := s.tickets.Get(conv.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("escalated conversation without ticket: %w", err)
		}
		reply, buttons := flow.AlreadyEscalatedReply(conv.Language, ticket.ContactURL)
		return &ChatResult{Reply: reply, Buttons: buttons, Ticket: s.ticketRef(conv)}, nil
	case models.StatusClosed:
		return &ChatResult{Reply: flow.P(conv.Language).Goodbye, End: true}, nil
	}

	out, err := s.engine.Turn(ctx, conv, in)
	if err != nil {
		return nil, err
	}
	if out.Escalate {
		return s.escalate(ctx, conv, out.Reason)
	}
	return &ChatResult{Reply: out.Reply, Buttons: out.Buttons, End: out.End}, nil
}

// escalate mints (or reuses) the ticket, flips the conversation, and builds
// the single handover turn.
func (s *ConversationService) escalate(ctx context.Context, conv *models.Conversation, reason string) (*ChatResult, error) {
	ticket, created, err := s.tickets.Escalate(ctx, conv, reason)
	if err != nil {
		return nil, err
	}
	conv.Status = models.StatusEscalated
	if created {
		conv.Append(models.NewSystemEvent(models.EventEscalated, map[string]any{
			"reason": reason, "contact_url": ticket.ContactURL,
		}))
	}
	reply, buttons := flow.HandoverReply(conv.Language, ticket.ContactURL)
	return &ChatResult{
		Reply:   reply,
		Buttons: buttons,
		Ticket:  &TicketRef{ConversationID: ticket.ConversationID, ContactURL: ticket.ContactURL},
	}, nil
}

// Resume reopens a conversation by ID for a returning user.
func (s *ConversationService) Resume(ctx context.Context, id string) (*ChatResult, error) {
	if !store.IDPattern.MatchString(id) {
		return nil, NewValidationError("conversation_id", "malformed id")
	}
	release, err := s.locks.Acquire(ctx, id, s.cfg.Limits.LockWait)
	if err != nil {
		return nil, ErrBusy
	}
	defer release()

	conv, err := s.load(id, ChatRequest{ConversationID: id})
	if err != nil {
		return nil, err
	}

	switch conv.Status {
	case models.StatusEscalated:
		ticket, err := s.tickets.Get(conv.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("escalated conversation without ticket: %w", err)
		}
		reply, buttons := flow.AlreadyEscalatedReply(conv.Language, ticket.ContactURL)
		return &ChatResult{ConversationID: id, Stage: conv.Stage, Reply: reply, Buttons: buttons, Ticket: s.ticketRef(conv)}, nil
	case models.StatusClosed:
		return nil, ErrConversationClosed
	}

	out := s.engine.ResumeTurn(conv)
	conv.Append(models.NewBotButtons(out.Reply, out.Buttons))
	if err := s.persist(ctx, id, conv); err != nil {
		return nil, err
	}
	return &ChatResult{
		ConversationID: id,
		Stage:          conv.Stage,
		Reply:          out.Reply,
		Buttons:        out.Buttons,
	}, nil
}

// PeekStage reports a conversation's current stage without taking the turn
// lock. The transport layer uses it to decide whether a turn can reach the
// LLM before debiting the model budget.
func (s *ConversationService) PeekStage(conversationID string) (models.Stage, bool) {
	if conv, ok := s.cache.Get(conversationID); ok {
		return conv.Stage, true
	}
	conv, err := s.store.Load(conversationID)
	if err != nil {
		return "", false
	}
	return conv.Stage, true
}

// Export returns the full record for the admin transcript endpoint.
func (s *ConversationService) Export(id string) (*models.Conversation, error) {
	if !store.IDPattern.MatchString(id) {
		return nil, NewValidationError("conversation_id", "malformed id")
	}
	conv, err := s.store.Load(id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return conv, nil
}

// Trace returns only the system events of a record, the forensic view for
// the admin trace endpoint.
func (s *ConversationService) Trace(id string) ([]models.TranscriptEvent, error) {
	conv, err := s.Export(id)
	if err != nil {
		return nil, err
	}
	out := make([]models.TranscriptEvent, 0, len(conv.Transcript))
	for _, ev := range conv.Transcript {
		if ev.Role == models.RoleSystem {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ImagePath resolves a stored upload for serving.
func (s *ConversationService) ImagePath(conversationID, filename string) (string, error) {
	p, err := s.intake.Path(conversationID, filename)
	if err != nil {
		return "", mapStoreError(err)
	}
	return p, nil
}

// load resolves the working copy: cache first, durable store second, and
// for pre-ID sessions a fresh record on miss.
func (s *ConversationService) load(key string, req ChatRequest) (*models.Conversation, error) {
	if conv, ok := s.cache.Get(key); ok {
		return conv, nil
	}
	if req.ConversationID != "" {
		conv, err := s.store.Load(req.ConversationID)
		if err != nil {
			return nil, mapStoreError(err)
		}
		return conv, nil
	}
	// Pre-ID cache miss (restart, eviction): the greeting starts over.
	return models.NewConversation(req.SessionID, timeNow()), nil
}

// persist writes through: durable save once an ID exists, cache always.
// When the ID was assigned this turn the cache entry moves from the
// session key to the ID.
func (s *ConversationService) persist(ctx context.Context, key string, conv *models.Conversation) error {
	if conv.ConversationID != "" {
		if err := s.store.Save(conv); err != nil {
			observe.Logger(ctx).Error("Failed to persist conversation",
				"conversation_id", conv.ConversationID, "error", err)
			return fmt.Errorf("persist conversation: %w", err)
		}
		if key != conv.ConversationID {
			s.cache.Remove(key)
		}
		if s.cache.Put(conv.ConversationID, conv) {
			s.metrics.AddActiveConversations(ctx, 1)
		}
		return nil
	}
	if s.cache.Put(key, conv) {
		s.metrics.AddActiveConversations(ctx, 1)
	}
	return nil
}

// attachImage validates and stores an upload, recording the reference in
// the transcript. Uploads before ID assignment are rejected: there is no
// directory to file them under yet.
func (s *ConversationService) attachImage(conv *models.Conversation, payload string) error {
	if conv.ConversationID == "" {
		return NewValidationError("image_base64", "uploads require an assigned conversation id")
	}
	stored, err := s.intake.Store(conv.ConversationID, payload)
	if err != nil {
		switch {
		case errors.Is(err, images.ErrTooLarge):
			return NewValidationError("image_base64", "image exceeds the size cap")
		case errors.Is(err, images.ErrBadEncoding), errors.Is(err, images.ErrUnsupportedType):
			return NewValidationError("image_base64", "unsupported or malformed image")
		default:
			return fmt.Errorf("store image: %w", err)
		}
	}
	conv.Append(models.NewSystemEvent(models.EventImageUploaded, map[string]any{
		"filename": stored.Filename, "url": stored.URL, "bytes": stored.Bytes,
	}))
	return nil
}

func (s *ConversationService) ticketRef(conv *models.Conversation) *TicketRef {
	if conv.Status != models.StatusEscalated {
		return nil
	}
	t, err := s.tickets.Get(conv.ConversationID)
	if err != nil {
		return nil
	}
	return &TicketRef{ConversationID: t.ConversationID, ContactURL: t.ContactURL}
}

func validateChat(req ChatRequest) error {
	if req.ConversationID == "" && strings.TrimSpace(req.SessionID) == "" {
		return NewValidationError("conversation_id", "conversation_id or session_id is required")
	}
	if req.ConversationID != "" && !store.IDPattern.MatchString(req.ConversationID) {
		return NewValidationError("conversation_id", "malformed id")
	}
	if strings.TrimSpace(req.RequestID) == "" {
		return NewValidationError("request_id", "must not be empty")
	}
	if req.Action == "button" {
		if req.Value == "" {
			return NewValidationError("value", "button turns require a value")
		}
	} else if strings.TrimSpace(req.Text) == "" && req.ImageBase64 == "" {
		return NewValidationError("text", "text or a button press is required")
	}
	return nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrInvalidID):
		return NewValidationError("conversation_id", "malformed id")
	case errors.Is(err, store.ErrCorrupted):
		return ErrCorrupted
	default:
		return err
	}
}
