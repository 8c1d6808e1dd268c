package service

import (
	"github.com/rigado/profile"
	"github.com/rigado/profile/worker"
)

// machineEnv is the Service as seen by its state machines. Every method runs
// on the worker.
type machineEnv Service

func (e *machineEnv) svc() *Service {
	return (*Service)(e)
}

func (e *machineEnv) Admit(addr profile.Addr, inbound bool) bool {
	return e.svc().okToConnect(addr, inbound)
}

func (e *machineEnv) NativeConnect(addr profile.Addr) error {
	s := e.svc()
	if s.native == nil {
		return profile.ErrNativeUnavailable
	}
	return s.native.Connect(addr)
}

func (e *machineEnv) NativeDisconnect(addr profile.Addr) error {
	s := e.svc()
	if s.native == nil {
		return profile.ErrNativeUnavailable
	}
	return s.native.Disconnect(addr)
}

func connectKey(addr profile.Addr) worker.Key {
	return worker.Key{Kind: worker.KindConnect, Device: addr}
}

func (e *machineEnv) StartTimer(addr profile.Addr, fire func()) error {
	s := e.svc()
	return s.timers.Start(connectKey(addr), s.connectTmo, fire)
}

func (e *machineEnv) CancelTimer(addr profile.Addr) {
	e.svc().timers.Cancel(connectKey(addr))
}

func (e *machineEnv) Broadcast(addr profile.Addr, from, to profile.State) {
	s := e.svc()
	s.log.Infof("%v: %v -> %v", addr, from, to)
	s.notify(func(l Listener) { l.OnConnectionStateChanged(addr, from, to) })
	if to == profile.StateDisconnected {
		if from != profile.StateConnected {
			// leaving Connected is recorded by ConnectionChanged
			s.recordState(addr, to)
		}
		// after the current transition, including any replayed request
		s.post(func() { s.releaseIfUnused(addr) })
	}
}

func (e *machineEnv) ConnectionChanged(addr profile.Addr, from, to profile.State) {
	s := e.svc()

	if s.grouping {
		for _, id := range s.groups.GroupIDs(addr) {
			if to == profile.StateConnected {
				s.groups.OnDeviceConnected(addr, id)
			} else if from == profile.StateConnected {
				s.groups.OnDeviceDisconnected(addr, id)
			}
		}
	}

	s.updateActiveDevice(addr, from, to)

	if from == profile.StateConnected && to != profile.StateConnected {
		s.clearVoice(addr)
	}

	s.recordState(addr, to)
}

// lockNative lets the group coordinator reach the native stack, which may be
// absent.
type lockNative Service

func (n *lockNative) SetLock(groupID int, lock bool) error {
	s := (*Service)(n)
	if s.native == nil {
		return profile.ErrNativeUnavailable
	}
	return s.native.SetLock(groupID, lock)
}

// okToConnect is the admission check, run on the worker when a connection
// is about to proceed. Inbound connections must come from a bonded device
// while the adapter is not in quiet mode.
func (s *Service) okToConnect(addr profile.Addr, inbound bool) bool {
	if inbound {
		if s.adapter.QuietMode() {
			s.log.Warnf("%v: rejected, quiet mode", addr)
			return false
		}
		if b := s.adapter.BondState(addr); b != profile.BondBonded {
			s.log.Warnf("%v: rejected, bond state %v", addr, b)
			return false
		}
	}

	p, err := s.store.ConnectionPolicy(addr, s.id)
	if err != nil {
		s.log.Errorf("%v: can't read connection policy: %v", addr, err)
	} else if p == profile.PolicyForbidden {
		s.log.Warnf("%v: rejected, policy forbidden", addr)
		return false
	}

	others := s.activeOthers(addr)
	if len(others) < s.maxConns {
		return true
	}
	if s.maxConns == 1 {
		for _, m := range others {
			s.log.Infof("%v: replacing %v", addr, m.Addr())
			m.Disconnect()
		}
		return true
	}
	s.log.Warnf("%v: rejected, %d connections", addr, len(others))
	return false
}

func (s *Service) recordState(addr profile.Addr, st profile.State) {
	if err := s.store.RecordConnectionState(addr, s.id, st); err != nil {
		s.log.Errorf("%v: can't record connection state: %v", addr, err)
	}
}
