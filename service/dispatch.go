package service

import (
	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/stack"
)

var errGroupingDisabled = errors.New("grouping disabled")

// HandleStackEvent is the native event handler. It queues e on the worker;
// events arriving while the service is not running are dropped.
func (s *Service) HandleStackEvent(e stack.Event) {
	if !s.Running() {
		s.log.Debugf("dropping %v, not running", e)
		return
	}
	if err := s.post(func() { s.dispatch(e) }); err != nil {
		s.log.Debugf("dropping %v: %v", e, err)
	}
}

func (s *Service) dispatch(e stack.Event) {
	f := s.evth[e.Type]
	if f == nil {
		s.log.Warnf("dropping %v: no handler", e)
		return
	}
	if err := f(e); err != nil {
		s.log.Warnf("dropping %v: %v", e, err)
	}
}

func (s *Service) handleConnectionState(e stack.Event) error {
	st := e.State()
	if !st.Valid() {
		return errors.Errorf("invalid state %d", e.ValueInt1)
	}

	m := s.machine(e.Device)
	if m == nil {
		if st != profile.StateConnecting && st != profile.StateConnected {
			return errors.Wrapf(profile.ErrUnknownDevice, "%v", e.Device)
		}
		var err error
		if m, err = s.obtainMachine(e.Device); err != nil {
			return err
		}
	}
	m.StackEvent(st)
	// a rejected inbound connection leaves an unused machine behind
	s.releaseIfUnused(e.Device)
	return nil
}

func (s *Service) handleDeviceAvailable(e stack.Event) error {
	if !s.grouping {
		return errGroupingDisabled
	}
	s.groups.RecordDeviceAvailable(e.Device, e.ValueInt1, e.ValueInt3, e.ValueUUID1, e.ValueInt2)
	return nil
}

func (s *Service) handleSetMemberAvailable(e stack.Event) error {
	if !s.grouping {
		return errGroupingDisabled
	}
	s.groups.RecordSetMemberFound(e.Device, e.ValueInt1)
	return nil
}

func (s *Service) handleGroupLockChanged(e stack.Event) error {
	if !s.grouping {
		return errGroupingDisabled
	}
	s.groups.OnLockChanged(e.ValueInt1, stack.LockStatus(e.ValueInt2), e.ValueBool1)
	return nil
}
