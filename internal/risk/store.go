package risk

import (
	"context"
	"sync"
)

// maxPatterns bounds the behaviour history retained per account.
const maxPatterns = 100

// Store persists risk signals keyed by account.
type Store interface {
	GetDevice(ctx context.Context, accountID, hash string) (DeviceFingerprint, bool, error)
	SaveDevice(ctx context.Context, device DeviceFingerprint) error
	AppendPattern(ctx context.Context, pattern BehavioralPattern) error
	// Patterns returns up to limit samples, newest first.
	Patterns(ctx context.Context, accountID string, limit int) ([]BehavioralPattern, error)
	AddGeoRule(ctx context.Context, rule GeoRule) error
	GeoRules(ctx context.Context, accountID string) ([]GeoRule, error)
	AddTimeRule(ctx context.Context, rule TimeRule) error
	TimeRules(ctx context.Context, accountID string) ([]TimeRule, error)
	SaveState(ctx context.Context, state State) error
	GetState(ctx context.Context, accountID string) (State, bool, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	devices  map[string]map[string]DeviceFingerprint
	patterns map[string][]BehavioralPattern
	geo      map[string][]GeoRule
	windows  map[string][]TimeRule
	states   map[string]State
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  make(map[string]map[string]DeviceFingerprint),
		patterns: make(map[string][]BehavioralPattern),
		geo:      make(map[string][]GeoRule),
		windows:  make(map[string][]TimeRule),
		states:   make(map[string]State),
	}
}

func (m *MemoryStore) GetDevice(_ context.Context, accountID, hash string) (DeviceFingerprint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[accountID][hash]
	return d, ok, nil
}

func (m *MemoryStore) SaveDevice(_ context.Context, device DeviceFingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHash, ok := m.devices[device.AccountID]
	if !ok {
		byHash = make(map[string]DeviceFingerprint)
		m.devices[device.AccountID] = byHash
	}
	byHash[device.Hash] = device
	return nil
}

func (m *MemoryStore) AppendPattern(_ context.Context, pattern BehavioralPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.patterns[pattern.AccountID], pattern)
	if len(list) > maxPatterns {
		list = list[len(list)-maxPatterns:]
	}
	m.patterns[pattern.AccountID] = list
	return nil
}

func (m *MemoryStore) Patterns(_ context.Context, accountID string, limit int) ([]BehavioralPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.patterns[accountID]
	out := make([]BehavioralPattern, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) AddGeoRule(_ context.Context, rule GeoRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geo[rule.AccountID] = append(m.geo[rule.AccountID], rule)
	return nil
}

func (m *MemoryStore) GeoRules(_ context.Context, accountID string) ([]GeoRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]GeoRule(nil), m.geo[accountID]...), nil
}

func (m *MemoryStore) AddTimeRule(_ context.Context, rule TimeRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[rule.AccountID] = append(m.windows[rule.AccountID], rule)
	return nil
}

func (m *MemoryStore) TimeRules(_ context.Context, accountID string) ([]TimeRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TimeRule(nil), m.windows[accountID]...), nil
}

func (m *MemoryStore) SaveState(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.AccountID] = state
	return nil
}

func (m *MemoryStore) GetState(_ context.Context, accountID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[accountID]
	return s, ok, nil
}
