package service

import (
	"sort"

	"github.com/rigado/profile"
)

// Listener receives the notifications of a service. Calls are made one at a
// time, in order, from the broadcast queue.
type Listener interface {
	OnConnectionStateChanged(addr profile.Addr, from, to profile.State)
	OnSetMemberAvailable(addr profile.Addr, groupID int)
	// OnActiveDeviceChanged receives an empty address when no device is
	// active.
	OnActiveDeviceChanged(addr profile.Addr)
	OnVoiceRecognitionChanged(addr profile.Addr, active bool)
}

// ListenerFuncs is a Listener built from optional funcs.
type ListenerFuncs struct {
	ConnectionStateChanged  func(addr profile.Addr, from, to profile.State)
	SetMemberAvailable      func(addr profile.Addr, groupID int)
	ActiveDeviceChanged     func(addr profile.Addr)
	VoiceRecognitionChanged func(addr profile.Addr, active bool)
}

func (f ListenerFuncs) OnConnectionStateChanged(addr profile.Addr, from, to profile.State) {
	if f.ConnectionStateChanged != nil {
		f.ConnectionStateChanged(addr, from, to)
	}
}

func (f ListenerFuncs) OnSetMemberAvailable(addr profile.Addr, groupID int) {
	if f.SetMemberAvailable != nil {
		f.SetMemberAvailable(addr, groupID)
	}
}

func (f ListenerFuncs) OnActiveDeviceChanged(addr profile.Addr) {
	if f.ActiveDeviceChanged != nil {
		f.ActiveDeviceChanged(addr)
	}
}

func (f ListenerFuncs) OnVoiceRecognitionChanged(addr profile.Addr, active bool) {
	if f.VoiceRecognitionChanged != nil {
		f.VoiceRecognitionChanged(addr, active)
	}
}

// AddListener subscribes l. The returned func unsubscribes it.
func (s *Service) AddListener(l Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.lseq++
	id := s.lseq
	s.listeners[id] = l
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

// notify queues fn for the listeners registered now.
func (s *Service) notify(fn func(Listener)) {
	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ll := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ll = append(ll, s.listeners[id])
	}
	s.lmu.Unlock()

	if len(ll) == 0 {
		return
	}
	s.broadcast(func() {
		for _, l := range ll {
			fn(l)
		}
	})
}

func (s *Service) announceSetMember(addr profile.Addr, groupID int) {
	s.notify(func(l Listener) { l.OnSetMemberAvailable(addr, groupID) })
}
