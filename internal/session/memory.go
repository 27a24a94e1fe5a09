package session

import (
	"context"
	"sync"
	"time"

	"github.com/pavelanni/kotoba/internal/quiz"
)

type memoryEntry struct {
	state   quiz.State
	expires time.Time
}

// MemoryCache is a process-local Cache. Entries expire ttl after their last
// write.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates an in-memory cache. A zero ttl means DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, id string) (quiz.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return quiz.State{}, ErrNotFound
	}
	if c.now().After(e.expires) {
		delete(c.entries, id)
		return quiz.State{}, ErrNotFound
	}
	return e.state, nil
}

func (c *MemoryCache) Set(_ context.Context, id string, st quiz.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = memoryEntry{state: st, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}
