package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ayudatec/mesabot/pkg/models"
)

// TicketStore persists ticket records, one JSON file keyed by conversation
// id. Tickets are write-once: Create is idempotent and a second attempt
// returns the existing record.
type TicketStore struct {
	dir string
}

// NewTicketStore creates the store rooted at dir.
func NewTicketStore(dir string) (*TicketStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tickets dir: %w", err)
	}
	sweepTempFiles(dir)
	return &TicketStore{dir: dir}, nil
}

// Create persists the ticket unless one already exists for the
// conversation. Returns the authoritative ticket and whether it was
// created by this call.
func (s *TicketStore) Create(t *models.Ticket) (*models.Ticket, bool, error) {
	existing, err := s.Get(t.ConversationID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	path, err := s.pathFor(t.ConversationID)
	if err != nil {
		return nil, false, err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("encode ticket %s: %w", t.ConversationID, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// Get returns the ticket for the conversation, or ErrNotFound.
func (s *TicketStore) Get(conversationID string) (*models.Ticket, error) {
	path, err := s.pathFor(conversationID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read ticket %s: %w", conversationID, err)
	}
	var t models.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: ticket %s: %v", ErrCorrupted, conversationID, err)
	}
	return &t, nil
}

func (s *TicketStore) pathFor(id string) (string, error) {
	if !IDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}
