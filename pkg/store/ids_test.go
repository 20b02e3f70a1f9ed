package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReserver(t *testing.T) *IDReserver {
	t.Helper()
	r, err := NewIDReserver(filepath.Join(t.TempDir(), "ids"), time.Minute)
	require.NoError(t, err)
	return r
}

func TestReserveFormat(t *testing.T) {
	r := newTestReserver(t)
	id, err := r.Reserve(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z]{2}[0-9]{4}$`, id)
	assert.NotContains(t, id, "Ñ")
}

func TestReserveUniqueUnderContention(t *testing.T) {
	r := newTestReserver(t)

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Reserve(context.Background())
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	count, err := r.UsedCount()
	require.NoError(t, err)
	assert.Equal(t, n, count)

	// No lock file left behind.
	_, err = os.Stat(filepath.Join(r.dir, lockFile))
	assert.True(t, os.IsNotExist(err))
}

func TestReservePersistsAcrossRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ids")
	r1, err := NewIDReserver(dir, time.Minute)
	require.NoError(t, err)
	id1, err := r1.Reserve(context.Background())
	require.NoError(t, err)

	r2, err := NewIDReserver(dir, time.Minute)
	require.NoError(t, err)
	count, err := r2.UsedCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	id2, err := r2.Reserve(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestReclaimOrphanLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ids")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	lockPath := filepath.Join(dir, lockFile)
	require.NoError(t, os.WriteFile(lockPath, []byte("12345"), 0o644))
	stale := time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(lockPath, stale, stale))

	// Constructor reclaims the stale lock, so the first Reserve succeeds
	// without waiting out the contention budget.
	r, err := NewIDReserver(dir, time.Minute)
	require.NoError(t, err)
	_, err = r.Reserve(context.Background())
	assert.NoError(t, err)
}

func TestFreshLockIsRespected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ids")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockFile), []byte("held"), 0o644))

	r, err := NewIDReserver(dir, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = r.Reserve(ctx)
	assert.Error(t, err)
}
