package profile

import (
	"sync"

	"github.com/google/uuid"
)

// Adapter exposes the local adapter state consulted by admission checks.
type Adapter interface {
	QuietMode() bool
	BondState(Addr) BondState
	RemoteUUIDs(Addr) []uuid.UUID
}

// StaticAdapter is an Adapter whose state is set by the caller.
type StaticAdapter struct {
	mu    sync.RWMutex
	quiet bool
	bonds map[Addr]BondState
	uuids map[Addr][]uuid.UUID
}

func NewStaticAdapter() *StaticAdapter {
	return &StaticAdapter{
		bonds: make(map[Addr]BondState),
		uuids: make(map[Addr][]uuid.UUID),
	}
}

func (a *StaticAdapter) QuietMode() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.quiet
}

func (a *StaticAdapter) SetQuietMode(q bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quiet = q
}

func (a *StaticAdapter) BondState(addr Addr) BondState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bonds[addr]
}

func (a *StaticAdapter) SetBondState(addr Addr, b BondState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bonds[addr] = b
}

func (a *StaticAdapter) RemoteUUIDs(addr Addr) []uuid.UUID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]uuid.UUID(nil), a.uuids[addr]...)
}

func (a *StaticAdapter) SetRemoteUUIDs(addr Addr, uu ...uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uuids[addr] = append([]uuid.UUID(nil), uu...)
}

// AddBondedDevice marks addr as bonded and advertising uu.
func (a *StaticAdapter) AddBondedDevice(addr Addr, uu ...uuid.UUID) {
	a.SetBondState(addr, BondBonded)
	a.SetRemoteUUIDs(addr, uu...)
}
