package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocksSerializeSameKey(t *testing.T) {
	l := NewLocks()
	ctx := context.Background()

	var counter, max, active int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "AB1234", 5*time.Second)
			require.NoError(t, err)
			defer release()

			mu.Lock()
			active++
			if active > max {
				max = active
			}
			counter++
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
	assert.Equal(t, 1, max, "two holders inside the same conversation lock")
}

func TestLocksDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocks()
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "AB1234", time.Second)
	require.NoError(t, err)
	defer r1()

	done := make(chan struct{})
	go func() {
		r2, err := l.Acquire(ctx, "CD5678", 100*time.Millisecond)
		assert.NoError(t, err)
		r2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different conversation blocked")
	}
}

func TestLocksBoundedWait(t *testing.T) {
	l := NewLocks()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "AB1234", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(ctx, "AB1234", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLocksReleaseIsIdempotent(t *testing.T) {
	l := NewLocks()
	release, err := l.Acquire(context.Background(), "AB1234", time.Second)
	require.NoError(t, err)
	release()
	release() // second call must not unlock someone else's acquisition

	r2, err := l.Acquire(context.Background(), "AB1234", time.Second)
	require.NoError(t, err)
	defer r2()

	_, err = l.Acquire(context.Background(), "AB1234", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLocksHonorCancellation(t *testing.T) {
	l := NewLocks()
	release, err := l.Acquire(context.Background(), "AB1234", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "AB1234", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
