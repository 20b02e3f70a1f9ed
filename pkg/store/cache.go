package store

import (
	"container/list"
	"sync"

	"github.com/ayudatec/mesabot/pkg/models"
)

// SessionCache is an LRU cache of active conversations, keyed either by
// conversation id (post-assignment) or by the opaque session id used before
// an id exists. Entries are write-through mirrors of the durable store:
// eviction needs no flush because every mutation is saved through to disk
// first. Lookups return deep clones — cached records are never
// pointer-shared with in-flight handlers.
type SessionCache struct {
	mu      sync.Mutex
	cap     int
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	// onEvict, if set, is called after an entry leaves the cache. Used to
	// keep the active-conversations gauge honest.
	onEvict func(key string)
}

type cacheEntry struct {
	key  string
	conv *models.Conversation
}

// NewSessionCache creates a cache holding at most capacity conversations.
func NewSessionCache(capacity int) *SessionCache {
	if capacity < 1 {
		capacity = 1
	}
	return &SessionCache{
		cap:     capacity,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// SetEvictionHook registers a callback invoked (outside locks held by the
// caller, inside the cache's own) when an entry is evicted or removed.
func (c *SessionCache) SetEvictionHook(fn func(key string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns a clone of the cached conversation, if present.
func (c *SessionCache) Get(key string) (*models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).conv.Clone(), true
}

// Put stores a clone of conv under key, evicting the least recently used
// entry beyond capacity. It reports whether the key is new to the cache,
// so callers can keep a residency gauge matched with the eviction hook.
func (c *SessionCache) Put(key string, conv *models.Conversation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).conv = conv.Clone()
		c.order.MoveToFront(el)
		return false
	}
	el := c.order.PushFront(&cacheEntry{key: key, conv: conv.Clone()})
	c.entries[key] = el
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, entry.key)
		if c.onEvict != nil {
			c.onEvict(entry.key)
		}
	}
	return true
}

// Remove drops the entry for key, if present. Used when a pre-id session
// graduates to a conversation id.
func (c *SessionCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return
	}
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, key)
	if c.onEvict != nil {
		c.onEvict(entry.key)
	}
}

// Len returns the number of cached conversations.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
