package service

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/group"
	"github.com/rigado/profile/statemachine"
)

// Connect starts connecting addr. It fails without any state change when the
// policy is forbidden, the device lacks the required service, it belongs to
// another profile or the connection limit is reached.
func (s *Service) Connect(addr profile.Addr) error {
	if !s.Running() {
		return profile.ErrNotRunning
	}
	if s.native == nil {
		return profile.ErrNativeUnavailable
	}

	p, err := s.store.ConnectionPolicy(addr, s.id)
	if err != nil {
		return errors.Wrapf(err, "%v: connection policy", addr)
	}
	if p == profile.PolicyForbidden {
		return errors.Wrapf(profile.ErrPolicyForbidden, "%v", addr)
	}
	if s.required != uuid.Nil && !s.hasUUID(addr, s.required) {
		return errors.Wrapf(profile.ErrMissingUUID, "%v lacks %v", addr, s.required)
	}
	if s.redirect != nil && s.redirect(addr) {
		return errors.Wrapf(profile.ErrRedirected, "%v", addr)
	}
	if s.maxConns > 1 && len(s.activeOthers(addr)) >= s.maxConns {
		return errors.Wrapf(profile.ErrMaxConnections, "%v: limit %d", addr, s.maxConns)
	}

	// resolved on the worker so a queued stack event can't release it first
	return s.post(func() {
		m, err := s.obtainMachine(addr)
		if err != nil {
			s.log.Debugf("%v: connect dropped: %v", addr, err)
			return
		}
		m.Connect()
	})
}

// Disconnect posts a disconnect for addr, whatever its state.
func (s *Service) Disconnect(addr profile.Addr) error {
	if !s.Running() {
		return profile.ErrNotRunning
	}
	if s.machine(addr) == nil {
		return errors.Wrapf(profile.ErrUnknownDevice, "%v", addr)
	}
	return s.post(func() { s.disconnect(addr) })
}

func (s *Service) disconnect(addr profile.Addr) {
	if m := s.machine(addr); m != nil {
		m.Disconnect()
	}
}

func (s *Service) hasUUID(addr profile.Addr, u uuid.UUID) bool {
	for _, v := range s.adapter.RemoteUUIDs(addr) {
		if v == u {
			return true
		}
	}
	return false
}

// activeOthers returns the machines other than addr that are connecting or
// connected.
func (s *Service) activeOthers(addr profile.Addr) []*statemachine.Machine {
	var out []*statemachine.Machine
	for _, m := range s.snapshot() {
		if m.Addr() == addr {
			continue
		}
		if st := m.State(); st == profile.StateConnecting || st == profile.StateConnected {
			out = append(out, m)
		}
	}
	return out
}

// ConnectionState returns the state of addr, Disconnected when unknown.
func (s *Service) ConnectionState(addr profile.Addr) profile.State {
	if m := s.machine(addr); m != nil {
		return m.State()
	}
	return profile.StateDisconnected
}

// ConnectedDevices returns the connected devices sorted by address.
func (s *Service) ConnectedDevices() []profile.Addr {
	return s.DevicesMatchingStates(profile.StateConnected)
}

// DevicesMatchingStates returns the devices in any of states sorted by
// address.
func (s *Service) DevicesMatchingStates(states ...profile.State) []profile.Addr {
	var out []profile.Addr
	for _, m := range s.snapshot() {
		st := m.State()
		for _, want := range states {
			if st == want {
				out = append(out, m.Addr())
				break
			}
		}
	}
	return out
}

// SetConnectionPolicy stores p for addr. Allowing a device connects it,
// forbidding disconnects it.
func (s *Service) SetConnectionPolicy(addr profile.Addr, p profile.ConnectionPolicy) error {
	if !s.Running() {
		return profile.ErrNotRunning
	}
	if err := s.store.SetConnectionPolicy(addr, s.id, p); err != nil {
		return errors.Wrapf(err, "%v: store policy", addr)
	}
	s.log.Infof("%v: policy %v", addr, p)

	switch p {
	case profile.PolicyAllowed:
		if err := s.Connect(addr); err != nil {
			s.log.Debugf("%v: not connecting: %v", addr, err)
		}
	case profile.PolicyForbidden:
		if err := s.Disconnect(addr); err != nil {
			s.log.Debugf("%v: not disconnecting: %v", addr, err)
		}
	}
	return nil
}

// ConnectionPolicy returns the stored policy for addr.
func (s *Service) ConnectionPolicy(addr profile.Addr) (profile.ConnectionPolicy, error) {
	return s.store.ConnectionPolicy(addr, s.id)
}

// forbid mirrors a forbidden policy of a related profile onto this one.
func (s *Service) forbid(addr profile.Addr) {
	if err := s.store.SetConnectionPolicy(addr, s.id, profile.PolicyForbidden); err != nil {
		s.log.Errorf("%v: can't store policy: %v", addr, err)
		return
	}
	s.post(func() { s.disconnect(addr) })
}

// LockGroup requests the lock of groupID. The outcome reaches cb on the
// broadcast queue.
func (s *Service) LockGroup(groupID int, cb group.LockCallback) (uuid.UUID, group.Status) {
	if !s.Running() || !s.grouping {
		return uuid.Nil, group.StatusInvalidGroupID
	}
	return s.groups.Lock(groupID, cb)
}

// UnlockGroup releases the lock identified by u.
func (s *Service) UnlockGroup(u uuid.UUID) bool {
	if !s.Running() {
		return false
	}
	return s.groups.Unlock(u)
}

func (s *Service) IsGroupLocked(groupID int) bool {
	return s.groups.IsLocked(groupID)
}

func (s *Service) AllGroupIDs(typ uuid.UUID) []int {
	return s.groups.AllGroupIDs(typ)
}

func (s *Service) GroupDevicesOrdered(groupID int) []profile.Addr {
	return s.groups.GroupDevicesOrdered(groupID)
}

func (s *Service) DesiredGroupSize(groupID int) int {
	return s.groups.DesiredGroupSize(groupID)
}

// RegisterCallbacks subscribes cb to set member notifications for groups of
// type context. The returned func unsubscribes.
func (s *Service) RegisterCallbacks(context uuid.UUID, cb group.MemberCallback, exec group.Executor) func() {
	return s.groups.RegisterCallbacks(context, cb, exec)
}

// OnBondStateChanged releases the machine of a device that lost its bond.
func (s *Service) OnBondStateChanged(addr profile.Addr, b profile.BondState) {
	if b != profile.BondNone {
		return
	}
	err := s.post(func() {
		s.groups.RemoveDevice(addr)
		s.releaseMachine(addr)
	})
	if err != nil {
		s.log.Debugf("%v: bond change dropped: %v", addr, err)
	}
}

// Devices returns every device with a state machine, sorted.
func (s *Service) Devices() []profile.Addr {
	mm := s.snapshot()
	out := make([]profile.Addr, 0, len(mm))
	for _, m := range mm {
		out = append(out, m.Addr())
	}
	return out
}
