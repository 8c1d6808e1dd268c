// Package policy persists per-device, per-profile connection policies and the
// last observed connection state.
package policy

import (
	"github.com/rigado/profile"
)

// Store is the persistence collaborator of a profile service. Reads of an
// unknown entry return PolicyUnknown and no error.
type Store interface {
	ConnectionPolicy(addr profile.Addr, id profile.ProfileID) (profile.ConnectionPolicy, error)
	SetConnectionPolicy(addr profile.Addr, id profile.ProfileID, p profile.ConnectionPolicy) error

	// RecordConnectionState stores the latest connection state seen for the
	// pair. LastConnectionState reports false when none was recorded.
	RecordConnectionState(addr profile.Addr, id profile.ProfileID, s profile.State) error
	LastConnectionState(addr profile.Addr, id profile.ProfileID) (profile.State, bool, error)

	Close() error
}

// Entry is the persisted record of one device.
type Entry struct {
	Policies map[string]profile.ConnectionPolicy `json:"policies,omitempty"`
	States   map[string]profile.State            `json:"states,omitempty"`
}

func newEntry() *Entry {
	return &Entry{
		Policies: make(map[string]profile.ConnectionPolicy),
		States:   make(map[string]profile.State),
	}
}

// Open returns the store described by c.
func Open(c profile.StoreConfig) (Store, error) {
	switch c.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(c.Path), nil
	case "sqlite":
		return OpenSQLite(c.Path)
	}
	return nil, errUnknownDriver(c.Driver)
}
