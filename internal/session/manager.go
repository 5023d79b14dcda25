// Package session tracks chat sessions that bind one user to one persona for
// the lifetime of a websocket connection.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/aili/internal/observability"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrEnded          = errors.New("session ended")
	ErrTurnInProgress = errors.New("a turn is already in progress")
)

type Session struct {
	ID             string    `json:"session_id"`
	RoleName       string    `json:"role_name"`
	YouName        string    `json:"you_name"`
	Status         Status    `json:"status"`
	ActiveTurnID   string    `json:"active_turn_id"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	metrics           *observability.Metrics
}

func NewManager(inactivityTimeout time.Duration, metrics *observability.Metrics) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		metrics:           metrics,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(roleName, youName string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		RoleName:       roleName,
		YouName:        youName,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	active := m.activeLocked()
	m.mu.Unlock()

	m.metrics.ObserveSessionEvent("created", active)
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// StartTurn marks turnID as the session's running turn. A session runs at most
// one turn at a time.
func (m *Manager) StartTurn(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusActive {
		return ErrEnded
	}
	if s.ActiveTurnID != "" {
		return ErrTurnInProgress
	}
	s.ActiveTurnID = turnID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// FinishTurn clears the running turn. completed counts the turn toward the
// session total.
func (m *Manager) FinishTurn(sessionID, turnID string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.ActiveTurnID != turnID {
		return nil
	}
	s.ActiveTurnID = ""
	if completed {
		s.TurnCount++
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	out := clone(s)
	active := m.activeLocked()
	m.mu.Unlock()

	m.metrics.ObserveSessionEvent("ended", active)
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() int {
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive ends idle sessions and forgets sessions that have been ended
// for longer than the inactivity timeout. A session with a running turn is
// never expired.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		idle := now.Sub(s.LastActivityAt) >= m.inactivityTimeout
		if s.Status == StatusEnded {
			if idle {
				delete(m.sessions, id)
			}
			continue
		}
		if !idle || s.ActiveTurnID != "" {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	active := m.activeLocked()
	m.mu.Unlock()

	for _, s := range expired {
		m.metrics.ObserveSessionEvent("expired", active)
		if hook != nil {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
