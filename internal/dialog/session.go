// Package dialog implements the per-user conversational wizard engine.
//
// A wizard is a declared state graph driven by inbound chat events;
// the partially collected answers live in a session held in process
// memory. An in-flight wizard is lost on restart, which is acceptable.
package dialog

import (
	"log/slog"
	"sync"
	"time"
)

// Flow identifies which wizard a session belongs to.
type Flow string

const (
	// FlowAddTask is the guided task creation dialogue.
	FlowAddTask Flow = "add_task"
	// FlowFeedback is the guided feedback submission dialogue.
	FlowFeedback Flow = "feedback"
)

// State is one node of a wizard's state graph.
type State string

// Key names a scratch field collected during a wizard.
type Key string

// Session holds one user's in-progress wizard: the current state tag
// plus the partially collected fields. At most one session exists per
// user; entering a wizard overwrites whatever was there before.
type Session struct {
	UserID    string
	Flow      Flow
	State     State
	Scratch   map[Key]string
	Images    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStore is the in-memory session map keyed by user identity.
// The mutex guards the map itself; read-modify-write of a single
// user's session relies on the transport delivering that user's
// events one at a time.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// SetClock overrides the store clock (for tests).
func (ss *SessionStore) SetClock(now func() time.Time) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.now = now
}

// Get returns the user's active session, or nil.
func (ss *SessionStore) Get(userID string) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.sessions[userID]
}

// Set stores the session and stamps UpdatedAt.
func (ss *SessionStore) Set(userID string, s *Session) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s.UpdatedAt = ss.now()
	ss.sessions[userID] = s
}

// Clear removes the user's session, if any.
func (ss *SessionStore) Clear(userID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.sessions[userID]; ok {
		delete(ss.sessions, userID)
		slog.Debug("SessionStore cleared session", "userID", userID)
	}
}

// Reset discards any existing session for the user and creates a fresh
// one at the wizard's entry state (last-entry-wins, no warning).
func (ss *SessionStore) Reset(userID string, flow Flow, entry State) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	now := ss.now()
	s := &Session{
		UserID:    userID,
		Flow:      flow,
		State:     entry,
		Scratch:   make(map[Key]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	ss.sessions[userID] = s
	slog.Debug("SessionStore reset session", "userID", userID, "flow", flow, "state", entry)
	return s
}

// Count returns the number of active sessions (for tests and stats).
func (ss *SessionStore) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}
