package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayudatec/mesabot/pkg/models"
)

func TestCacheLRUEviction(t *testing.T) {
	c := NewSessionCache(2)
	var evicted []string
	c.SetEvictionHook(func(key string) { evicted = append(evicted, key) })

	for i := 1; i <= 3; i++ {
		conv := models.NewConversation(fmt.Sprintf("s%d", i), time.Now())
		c.Put(fmt.Sprintf("sid:s%d", i), conv)
	}

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"sid:s1"}, evicted)
	_, ok := c.Get("sid:s1")
	assert.False(t, ok)
	_, ok = c.Get("sid:s3")
	assert.True(t, ok)
}

func TestCacheGetRefreshesRecency(t *testing.T) {
	c := NewSessionCache(2)
	c.Put("a", models.NewConversation("a", time.Now()))
	c.Put("b", models.NewConversation("b", time.Now()))

	_, ok := c.Get("a") // a becomes most recent
	require.True(t, ok)
	c.Put("c", models.NewConversation("c", time.Now()))

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCacheClonesBothWays(t *testing.T) {
	c := NewSessionCache(4)
	conv := models.NewConversation("s", time.Now())
	conv.User.Name = "Lucas"
	c.Put("k", conv)

	// Mutating the original after Put does not affect the cache.
	conv.User.Name = "mutated"
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "Lucas", got.User.Name)

	// Mutating a Get result does not affect the cache either.
	got.User.Name = "also mutated"
	again, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "Lucas", again.User.Name)
}

func TestCacheRemove(t *testing.T) {
	c := NewSessionCache(4)
	var removed []string
	c.SetEvictionHook(func(key string) { removed = append(removed, key) })

	c.Put("k", models.NewConversation("s", time.Now()))
	c.Remove("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, []string{"k"}, removed, "removal fires the hook like eviction")
}

func TestCachePutReportsNewKeys(t *testing.T) {
	c := NewSessionCache(4)
	conv := models.NewConversation("s", time.Now())

	assert.True(t, c.Put("k", conv), "first insert is new")
	assert.False(t, c.Put("k", conv), "update of a resident key is not")
	c.Remove("k")
	assert.True(t, c.Put("k", conv), "re-insert after removal is new again")
}
