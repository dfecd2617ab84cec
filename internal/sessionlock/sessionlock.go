// Package sessionlock serializes mutations of a single session's aggregate.
// Peak tracking, vote tallies, and upvote toggles are read-modify-write
// sequences; every operation that touches one session must hold that
// session's lock. Operations on different sessions never block each other.
package sessionlock

import (
	"sync"

	"github.com/google/uuid"
)

// Locks is a registry of per-session mutexes keyed by session id.
type Locks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// New creates an empty lock registry.
func New() *Locks {
	return &Locks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// Lock acquires the mutex for sessionID, creating it on first use, and
// returns the unlock function.
func (l *Locks) Lock(sessionID uuid.UUID) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Forget drops the mutex for a session that has reached a terminal state,
// keeping the registry bounded by live sessions. Call only while unheld.
// Lock recreates the mutex on demand, so a straggler arriving afterwards
// is still serialized against other stragglers.
func (l *Locks) Forget(sessionID uuid.UUID) {
	l.mu.Lock()
	delete(l.locks, sessionID)
	l.mu.Unlock()
}

// Len reports how many sessions currently hold a registered mutex.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
