package policy

import (
	"sync"

	"github.com/rigado/profile"
)

// MemoryStore keeps everything in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[profile.Addr]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[profile.Addr]*Entry)}
}

func (m *MemoryStore) entry(addr profile.Addr) *Entry {
	e, ok := m.entries[addr]
	if !ok {
		e = newEntry()
		m.entries[addr] = e
	}
	return e
}

func (m *MemoryStore) ConnectionPolicy(addr profile.Addr, id profile.ProfileID) (profile.ConnectionPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[addr]; ok {
		if p, ok := e.Policies[id.String()]; ok {
			return p, nil
		}
	}
	return profile.PolicyUnknown, nil
}

func (m *MemoryStore) SetConnectionPolicy(addr profile.Addr, id profile.ProfileID, p profile.ConnectionPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(addr).Policies[id.String()] = p
	return nil
}

func (m *MemoryStore) RecordConnectionState(addr profile.Addr, id profile.ProfileID, s profile.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(addr).States[id.String()] = s
	return nil
}

func (m *MemoryStore) LastConnectionState(addr profile.Addr, id profile.ProfileID) (profile.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[addr]; ok {
		s, ok := e.States[id.String()]
		return s, ok, nil
	}
	return profile.StateDisconnected, false, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
