package server

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/polywalk/internal/store"
)

// SessionState represents the lifecycle state of a walk session
type SessionState string

const (
	StatePending   SessionState = "pending"
	StateRunning   SessionState = "running"
	StateCompleted SessionState = "completed" // step limit reached or walk stalled
	StateStopped   SessionState = "stopped"   // stop requested by a client
	StateFailed    SessionState = "failed"
	StateCancelled SessionState = "cancelled" // server shutdown
)

// Terminal reports whether the session can no longer change.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateStopped, StateFailed, StateCancelled:
		return true
	}
	return false
}

// SessionConfig is an alias to avoid duplication with store.SessionConfig
type SessionConfig = store.SessionConfig

// Session is a snapshot of a walk session
type Session struct {
	ID         string        `json:"id"`
	State      SessionState  `json:"state"`
	Config     SessionConfig `json:"config"`
	Steps      int           `json:"steps"`
	Waypoints  int           `json:"waypoints"`
	Current    []float64     `json:"current,omitempty"`
	StopReason string        `json:"stopReason,omitempty"`
	ResumedAt  int           `json:"resumedAt,omitempty"` // step count restored from a checkpoint
	StartTime  time.Time     `json:"startTime"`
	EndTime    *time.Time    `json:"endTime,omitempty"`
	Error      string        `json:"error,omitempty"`

	stopRequested bool
}

func (s *Session) clone() *Session {
	c := *s
	c.Current = slices.Clone(s.Current)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// SessionManager owns all sessions and their event broadcaster
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	broadcaster *EventBroadcaster
}

// NewSessionManager creates an empty manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		broadcaster: NewEventBroadcaster(),
	}
}

// Broadcaster returns the manager's event broadcaster
func (sm *SessionManager) Broadcaster() *EventBroadcaster {
	return sm.broadcaster
}

// CreateSession registers a new pending session with a fresh ID
func (sm *SessionManager) CreateSession(config SessionConfig) *Session {
	session, _ := sm.CreateSessionWithID(uuid.New().String(), config)
	return session
}

// CreateSessionWithID registers a pending session under an existing ID, as
// used when resuming a checkpoint. Active sessions cannot be replaced.
func (sm *SessionManager) CreateSessionWithID(id string, config SessionConfig) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if existing, ok := sm.sessions[id]; ok && !existing.State.Terminal() {
		return nil, fmt.Errorf("session %s is still %s", id, existing.State)
	}

	sm.broadcaster.Forget(id)
	session := &Session{
		ID:        id,
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}
	sm.sessions[id] = session
	return session.clone(), nil
}

// GetSession returns a snapshot of a session
func (sm *SessionManager) GetSession(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[id]
	if !exists {
		return nil, false
	}
	return session.clone(), true
}

// ListSessions returns snapshots ordered by start time
func (sm *SessionManager) ListSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, session := range sm.sessions {
		sessions = append(sessions, session.clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions
}

// UpdateSession atomically updates a session using the provided function
func (sm *SessionManager) UpdateSession(id string, updateFn func(*Session)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[id]
	if !exists {
		return fmt.Errorf("session not found: %s", id)
	}
	updateFn(session)
	return nil
}

// RequestStop asks a session's worker to stop at the next step boundary.
// It returns the state observed when the request was made.
func (sm *SessionManager) RequestStop(id string) (SessionState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[id]
	if !exists {
		return "", fmt.Errorf("session not found: %s", id)
	}
	if !session.State.Terminal() {
		session.stopRequested = true
	}
	return session.State, nil
}

// StopRequested reports whether RequestStop was called for a session
func (sm *SessionManager) StopRequested(id string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[id]
	return exists && session.stopRequested
}

// GetRunningSessions returns all sessions currently in the running state
func (sm *SessionManager) GetRunningSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	running := make([]*Session, 0)
	for _, session := range sm.sessions {
		if session.State == StateRunning {
			running = append(running, session.clone())
		}
	}
	return running
}
