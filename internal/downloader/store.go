package downloader

import (
	"fmt"
	"sync"
	"time"
)

// SessionStore is the process-wide table of in-flight sessions, keyed by
// token. It is shared by every request goroutine and guards the map with a
// read-write mutex; constructed once and injected, never a package global.
// Sessions are not persisted: a restart loses all in-flight state.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[Token]*Session
}

// NewSessionStore returns a new empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[Token]*Session)}
}

// Create registers a session. The token must not already be present; tokens
// are never reused across two logical requests.
func (st *SessionStore) Create(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.sessions[s.token]; exists {
		return fmt.Errorf("session token already in use: %s", s.token)
	}
	st.sessions[s.token] = s
	return nil
}

// Get returns the session for token, if live.
func (st *SessionStore) Get(token Token) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[token]
	return s, ok
}

// Delete removes the session for token. Deleting an absent token is a no-op.
func (st *SessionStore) Delete(token Token) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, token)
}

// CreatedBefore returns the sessions created before cutoff. Used by the
// idle-session reaper.
func (st *SessionStore) CreatedBefore(cutoff time.Time) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []*Session
	for _, s := range st.sessions {
		if s.createdAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// ActiveCount returns the number of live sessions. Used for metrics.
func (st *SessionStore) ActiveCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
