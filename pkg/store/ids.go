package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// IDPattern validates a conversation id. Two uppercase ASCII letters plus
// four digits; the set deliberately excludes Ñ.
var IDPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{4}$`)

const idLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// idSpaceSize is the total number of reservable ids (26*26*10000).
const idSpaceSize = 676000

var (
	// ErrExhausted is returned when the id space is saturated. Non-recoverable.
	ErrExhausted = errors.New("conversation id space exhausted")

	// ErrLockContention is returned when the reservation lock could not be
	// acquired within the bounded attempt budget.
	ErrLockContention = errors.New("id reservation lock contention")
)

const (
	usedIDsFile = "used_ids.json"
	lockFile    = "used_ids.lock"

	// lockAttempts bounds the lock acquisition loop.
	lockAttempts = 40

	// drawAttempts bounds the random candidate loop per reservation; hitting
	// it means the space is effectively saturated.
	drawAttempts = 100
)

// IDReserver allocates globally unique conversation ids. Exclusive access to
// the used-set file is guarded by an O_CREATE|O_EXCL lock file; the used set
// itself is updated with write-temp + rename so a crash never leaves a
// partially written file.
type IDReserver struct {
	dir     string        // <data-root>/ids
	lockTTL time.Duration // orphaned locks older than this are reclaimed
}

// NewIDReserver creates the reserver rooted at dir, creating it if needed,
// and reclaims an orphaned lock left by a crashed process.
func NewIDReserver(dir string, lockTTL time.Duration) (*IDReserver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ids dir: %w", err)
	}
	r := &IDReserver{dir: dir, lockTTL: lockTTL}
	r.ReclaimOrphanLock()
	return r, nil
}

// Reserve returns a never-before-returned conversation id.
func (r *IDReserver) Reserve(ctx context.Context) (string, error) {
	release, err := r.acquireLock(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	used, err := r.loadUsed()
	if err != nil {
		return "", err
	}
	if len(used) >= idSpaceSize {
		return "", ErrExhausted
	}

	var id string
	for attempt := 0; ; attempt++ {
		if attempt >= drawAttempts {
			return "", ErrExhausted
		}
		id = drawCandidate()
		if _, taken := used[id]; !taken {
			break
		}
	}

	used[id] = struct{}{}
	if err := r.saveUsed(used); err != nil {
		return "", err
	}
	return id, nil
}

// UsedCount returns the number of reserved ids. Intended for health checks
// and tests.
func (r *IDReserver) UsedCount() (int, error) {
	used, err := r.loadUsed()
	if err != nil {
		return 0, err
	}
	return len(used), nil
}

// ReclaimOrphanLock removes a lock file older than the configured TTL.
// Called at startup and optionally by a periodic sweeper.
func (r *IDReserver) ReclaimOrphanLock() {
	path := filepath.Join(r.dir, lockFile)
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) >= r.lockTTL {
		if err := os.Remove(path); err == nil {
			slog.Warn("Reclaimed orphaned id reservation lock", "path", path, "age", time.Since(info.ModTime()))
		}
	}
}

// acquireLock takes the exclusive reservation lock, retrying with jittered
// backoff on contention. The returned func releases the lock.
func (r *IDReserver) acquireLock(ctx context.Context) (func(), error) {
	path := filepath.Join(r.dir, lockFile)
	for attempt := 0; attempt < lockAttempts; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
			f.Close()
			return func() {
				if rmErr := os.Remove(path); rmErr != nil {
					slog.Error("Failed to release id reservation lock", "path", path, "error", rmErr)
				}
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		// Held by someone else: jittered backoff, honoring cancellation.
		backoff := time.Duration(5+rand.IntN(20)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, ErrLockContention
}

func (r *IDReserver) loadUsed() (map[string]struct{}, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, usedIDsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]struct{}), nil
		}
		return nil, fmt.Errorf("read used ids: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parse used ids: %w", err)
	}
	used := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		used[id] = struct{}{}
	}
	return used, nil
}

func (r *IDReserver) saveUsed(used map[string]struct{}) error {
	ids := make([]string, 0, len(used))
	for id := range used {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode used ids: %w", err)
	}
	return writeAtomic(filepath.Join(r.dir, usedIDsFile), data)
}

func drawCandidate() string {
	return fmt.Sprintf("%c%c%04d",
		idLetters[rand.IntN(len(idLetters))],
		idLetters[rand.IntN(len(idLetters))],
		rand.IntN(10000))
}
