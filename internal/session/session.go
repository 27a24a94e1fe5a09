// Package session keeps quiz engine state between HTTP requests.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/kotoba/internal/quiz"
)

// DefaultTTL is how long an idle engine session is kept.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when a session id has no stored state.
var ErrNotFound = errors.New("session not found")

// Cache stores engine snapshots by session id.
type Cache interface {
	Get(ctx context.Context, id string) (quiz.State, error)
	Set(ctx context.Context, id string, st quiz.State) error
	Delete(ctx context.Context, id string) error
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.NewString()
}

// Manager serializes access to each session and persists state through a
// Cache.
type Manager struct {
	cache Cache

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a Manager backed by cache.
func NewManager(cache Cache) *Manager {
	return &Manager{cache: cache, locks: make(map[string]*sessionLock)}
}

// Lock blocks until the caller holds the session id exclusively. The returned
// func releases it.
func (m *Manager) Lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// Load returns the stored state for id.
func (m *Manager) Load(ctx context.Context, id string) (quiz.State, error) {
	return m.cache.Get(ctx, id)
}

// Save stores st under id.
func (m *Manager) Save(ctx context.Context, id string, st quiz.State) error {
	return m.cache.Set(ctx, id, st)
}

// Drop forgets the session.
func (m *Manager) Drop(ctx context.Context, id string) error {
	return m.cache.Delete(ctx, id)
}
