package selection

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("selection session not found")

// Session binds a State to the organization it was opened for.
type Session struct {
	ID    string
	OrgID string
	State *State
}

// Registry owns the chart sessions of one running server.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	defaults Selection
}

// NewRegistry creates a Registry. Sessions idle for longer than ttl are removed
// by Sweep; ttl <= 0 disables expiry.
func NewRegistry(ttl time.Duration, defaults Selection) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		defaults: defaults.clone(),
	}
}

// Create opens a new session for orgID with the default selection.
func (r *Registry) Create(orgID string) *Session {
	sess := &Session{
		ID:    uuid.NewString(),
		OrgID: orgID,
		State: NewState(r.defaults),
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess
}

// Get returns the session with the given ID and marks it as in use, so a
// session that is only read from does not expire.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.State.Touch()
	return sess, nil
}

// Delete removes a session. Unknown IDs are ignored.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions not touched since now-ttl and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, sess := range r.sessions {
		if sess.State.LastTouched().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
