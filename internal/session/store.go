package session

import (
	"context"
	"sync"
	"time"

	"github.com/congo-pay/teller/internal/domain"
)

// Status is the outcome of an atomic validity check.
type Status int

const (
	StatusUnknown Status = iota
	StatusInactive
	// StatusExpired means the check itself crossed the TTL and deactivated the session.
	StatusExpired
	StatusValid
)

// Store persists sessions. Validate and Terminate are atomic per session so
// a session being terminated can never be reported valid afterwards.
type Store interface {
	Create(ctx context.Context, s domain.Session, ttl time.Duration) error
	Validate(ctx context.Context, id string, now time.Time, ttl time.Duration) (domain.Session, Status, error)
	// Terminate deactivates the session and reports whether it was active.
	Terminate(ctx context.Context, id string, at time.Time) (domain.Session, bool, error)
	MarkSecondFactor(ctx context.Context, id string) error
	SetRiskScore(ctx context.Context, id string, score float64) error
}

// MemoryStore keeps sessions in process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]domain.Session)}
}

func (m *MemoryStore) Create(_ context.Context, s domain.Session, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return domain.ErrDuplicate
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Validate(_ context.Context, id string, now time.Time, ttl time.Duration) (domain.Session, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	switch {
	case !ok:
		return domain.Session{}, StatusUnknown, nil
	case !s.Active:
		return s, StatusInactive, nil
	case s.ExpiredAt(now, ttl):
		s.Active = false
		s.EndedAt = &now
		m.sessions[id] = s
		return s, StatusExpired, nil
	}
	return s, StatusValid, nil
}

func (m *MemoryStore) Terminate(_ context.Context, id string, at time.Time) (domain.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.Active {
		return s, false, nil
	}
	s.Active = false
	s.EndedAt = &at
	m.sessions[id] = s
	return s, true, nil
}

func (m *MemoryStore) MarkSecondFactor(_ context.Context, id string) error {
	return m.update(id, func(s *domain.Session) { s.SecondFactorVerified = true })
}

func (m *MemoryStore) SetRiskScore(_ context.Context, id string, score float64) error {
	return m.update(id, func(s *domain.Session) { s.RiskScore = score })
}

func (m *MemoryStore) update(id string, fn func(s *domain.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrSessionInvalid
	}
	fn(&s)
	m.sessions[id] = s
	return nil
}
