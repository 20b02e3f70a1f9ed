// Package store implements the file-backed persistence layer: conversation
// records, tickets, the id reservation service, the in-memory session cache,
// and the per-conversation lock table.
//
// On-disk layout under the data root:
//
//	conversations/<ID>.json   conversation records
//	tickets/<ID>.json         ticket records
//	ids/used_ids.json         reserved id set
//	ids/used_ids.lock         exclusive reservation lock
//
// All writes go through write-temp + rename; all paths derived from a
// conversation id are validated against IDPattern first.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ayudatec/mesabot/pkg/models"
)

var (
	// ErrInvalidID is returned when an id fails IDPattern validation.
	// This fires before any filesystem access (path traversal defense).
	ErrInvalidID = errors.New("invalid conversation id")

	// ErrNotFound is returned when no record exists for the id.
	ErrNotFound = errors.New("conversation not found")

	// ErrCorrupted is returned when a record exists but cannot be decoded.
	// The conversation is failed closed until human intervention.
	ErrCorrupted = errors.New("conversation record corrupted")
)

// ConversationStore persists conversation records, one JSON file per id.
// Safe for concurrent readers; writers to the same conversation must hold
// the per-conversation lock (see Locks) — the store itself does not order
// writes.
type ConversationStore struct {
	dir string
}

// NewConversationStore creates the store rooted at dir, creating the
// directory and sweeping temp files left by crashed writes.
func NewConversationStore(dir string) (*ConversationStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations dir: %w", err)
	}
	sweepTempFiles(dir)
	return &ConversationStore{dir: dir}, nil
}

// Load reads the record for id. Returns ErrNotFound when absent and
// ErrCorrupted when the file cannot be decoded. Records written by an older
// schema are migrated in memory; the migrated form is persisted on the next
// Save.
func (s *ConversationStore) Load(id string) (*models.Conversation, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read conversation %s: %w", id, err)
	}

	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, id, err)
	}
	if conv.ConversationID != id {
		return nil, fmt.Errorf("%w: %s: record carries id %q", ErrCorrupted, id, conv.ConversationID)
	}

	migrate(&conv)
	return &conv, nil
}

// Save atomically replaces the record. The conversation id must match the
// filename key it is stored under.
func (s *ConversationStore) Save(conv *models.Conversation) error {
	path, err := s.pathFor(conv.ConversationID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ConversationID, err)
	}
	return writeAtomic(path, data)
}

// Append loads the record, appends the event, and saves. The caller must
// hold the conversation's lock.
func (s *ConversationStore) Append(id string, ev models.TranscriptEvent) error {
	conv, err := s.Load(id)
	if err != nil {
		return err
	}
	conv.Append(ev)
	return s.Save(conv)
}

// Exists reports whether a record is present without decoding it.
func (s *ConversationStore) Exists(id string) (bool, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *ConversationStore) pathFor(id string) (string, error) {
	if !IDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// migrate upgrades older schema versions in place and marks unknown future
// versions legacy-incompatible so new turns route to a cold-start flow.
func migrate(conv *models.Conversation) {
	switch conv.SchemaVersion {
	case models.CurrentSchemaVersion:
		return
	case models.LegacySchemaVersion, "":
		// 1.0.0 → 2.0.0: new optional fields (modes, stored replies,
		// processed request ids) default to their zero values.
		conv.SchemaVersion = models.CurrentSchemaVersion
		if conv.Feedback == "" {
			conv.Feedback = models.FeedbackNone
		}
		if conv.Language == "" {
			conv.Language = models.DefaultLanguage
		}
		if conv.FlowVersion == "" {
			conv.FlowVersion = models.CurrentFlowVersion
		}
	default:
		if !knownVersion(conv.SchemaVersion) {
			conv.LegacyIncompatible = true
		}
	}
}

func knownVersion(v string) bool {
	return v == models.CurrentSchemaVersion || v == models.LegacySchemaVersion
}

// UploadsDirFor returns the uploads directory for a conversation under
// uploadRoot, validating the id first.
func UploadsDirFor(uploadRoot, id string) (string, error) {
	if !IDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(uploadRoot, id), nil
}

// SafeUploadName reports whether a stored upload filename is safe to serve:
// a single path element with no traversal.
func SafeUploadName(name string) bool {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	return name == filepath.Base(name) && !strings.HasPrefix(name, ".")
}
