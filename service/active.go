package service

import (
	"github.com/pkg/errors"
	"github.com/rigado/profile"
)

// ActiveDevice returns the active device, empty when there is none.
func (s *Service) ActiveDevice() profile.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActiveDevice makes a connected addr the active device. An empty addr
// clears it.
func (s *Service) SetActiveDevice(addr profile.Addr) error {
	if !s.Running() {
		return profile.ErrNotRunning
	}
	if addr != "" && s.ConnectionState(addr) != profile.StateConnected {
		return errors.Wrapf(profile.ErrNotConnected, "%v", addr)
	}
	return s.post(func() { s.setActive(addr) })
}

func (s *Service) setActive(addr profile.Addr) {
	s.mu.Lock()
	if s.active == addr {
		s.mu.Unlock()
		return
	}
	s.active = addr
	s.mu.Unlock()

	s.log.Infof("active device %q", addr)
	s.notify(func(l Listener) { l.OnActiveDeviceChanged(addr) })
}

// updateActiveDevice follows a transition of addr into or out of Connected.
func (s *Service) updateActiveDevice(addr profile.Addr, from, to profile.State) {
	cur := s.ActiveDevice()
	switch {
	case to == profile.StateConnected && cur == "":
		s.setActive(addr)
	case from == profile.StateConnected && cur == addr:
		s.setActive(s.nextActive(addr))
	}
}

// nextActive picks the replacement of addr: the first connected member of
// its groups in rank order, else the first connected device.
func (s *Service) nextActive(addr profile.Addr) profile.Addr {
	if s.grouping {
		for _, id := range s.groups.GroupIDs(addr) {
			for _, a := range s.groups.ConnectedMembers(id) {
				if a != addr && s.ConnectionState(a) == profile.StateConnected {
					return a
				}
			}
		}
	}
	for _, a := range s.ConnectedDevices() {
		if a != addr {
			return a
		}
	}
	return ""
}
