package service

import (
	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/stack"
	"github.com/rigado/profile/worker"
)

// AudioGate arbitrates the audio path with other streams. When
// SuspendRequired reports true, voice recognition calls RequestSuspend and
// waits, without blocking the worker, for Service.OnAudioSuspended.
type AudioGate interface {
	SuspendRequired() bool
	RequestSuspend()
}

type voiceState struct {
	device          profile.Addr
	active          bool
	awaitingSuspend bool
}

func voiceKey(addr profile.Addr) worker.Key {
	return worker.Key{Kind: worker.KindVoiceRecognition, Device: addr}
}

// StartVoiceRecognition starts voice recognition on a connected addr. The
// outcome is reported through OnVoiceRecognitionChanged.
func (s *Service) StartVoiceRecognition(addr profile.Addr) error {
	if !s.Running() {
		return profile.ErrNotRunning
	}
	if s.native == nil {
		return profile.ErrNativeUnavailable
	}
	if s.ConnectionState(addr) != profile.StateConnected {
		return errors.Wrapf(profile.ErrNotConnected, "%v", addr)
	}
	return s.post(func() { s.startVoice(addr) })
}

// StopVoiceRecognition stops voice recognition on addr.
func (s *Service) StopVoiceRecognition(addr profile.Addr) error {
	if !s.Running() {
		return profile.ErrNotRunning
	}
	if s.native == nil {
		return profile.ErrNativeUnavailable
	}
	return s.post(func() { s.stopVoice(addr) })
}

// OnAudioSuspended tells the service the suspend it requested is done.
func (s *Service) OnAudioSuspended() {
	err := s.post(func() {
		s.mu.Lock()
		if !s.vr.awaitingSuspend {
			s.mu.Unlock()
			return
		}
		s.vr.awaitingSuspend = false
		addr := s.vr.device
		s.mu.Unlock()

		if s.ConnectionState(addr) != profile.StateConnected {
			s.clearVoice(addr)
			return
		}
		s.issueVoiceStart(addr)
	})
	if err != nil {
		s.log.Debugf("audio suspended: %v", err)
	}
}

// VoiceRecognition returns the device voice recognition runs on or waits for.
func (s *Service) VoiceRecognition() (addr profile.Addr, active bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vr.device, s.vr.active
}

func (s *Service) startVoice(addr profile.Addr) {
	s.mu.Lock()
	if s.vr.device != "" {
		cur := s.vr.device
		s.mu.Unlock()
		s.log.Warnf("%v: voice recognition busy on %v", addr, cur)
		return
	}
	s.vr = voiceState{device: addr}
	suspend := s.gate != nil && s.gate.SuspendRequired()
	s.vr.awaitingSuspend = suspend
	s.mu.Unlock()

	if suspend {
		s.log.Infof("%v: voice recognition waits for audio suspend", addr)
		s.gate.RequestSuspend()
		return
	}
	s.issueVoiceStart(addr)
}

func (s *Service) issueVoiceStart(addr profile.Addr) {
	if err := s.native.StartVoiceRecognition(addr); err != nil {
		s.log.Errorf("%v: can't start voice recognition: %v", addr, err)
		s.clearVoice(addr)
		return
	}
	err := s.timers.Start(voiceKey(addr), s.vrTmo, func() { s.voiceTimeout(addr) })
	if err != nil {
		s.log.Errorf("%v: can't arm voice recognition timer: %v", addr, err)
	}
}

func (s *Service) voiceTimeout(addr profile.Addr) {
	s.mu.Lock()
	if s.vr.device != addr || s.vr.active {
		s.mu.Unlock()
		return
	}
	s.vr = voiceState{}
	s.mu.Unlock()

	s.log.Warnf("%v: voice recognition did not start within %v", addr, s.vrTmo)
	if err := s.native.StopVoiceRecognition(addr); err != nil {
		s.log.Errorf("%v: can't stop voice recognition: %v", addr, err)
	}
	s.notify(func(l Listener) { l.OnVoiceRecognitionChanged(addr, false) })
}

func (s *Service) stopVoice(addr profile.Addr) {
	s.mu.Lock()
	if s.vr.device != addr {
		s.mu.Unlock()
		s.log.Debugf("%v: voice recognition not running", addr)
		return
	}
	awaiting := s.vr.awaitingSuspend
	s.vr = voiceState{}
	s.mu.Unlock()

	s.timers.Cancel(voiceKey(addr))
	if awaiting {
		return
	}
	if err := s.native.StopVoiceRecognition(addr); err != nil {
		s.log.Errorf("%v: can't stop voice recognition: %v", addr, err)
	}
}

// clearVoice forgets voice recognition on addr and reports it stopped when
// it was active.
func (s *Service) clearVoice(addr profile.Addr) {
	s.mu.Lock()
	if s.vr.device != addr {
		s.mu.Unlock()
		return
	}
	wasActive := s.vr.active
	s.vr = voiceState{}
	s.mu.Unlock()

	s.timers.Cancel(voiceKey(addr))
	if wasActive {
		s.notify(func(l Listener) { l.OnVoiceRecognitionChanged(addr, false) })
	}
}

func (s *Service) handleVoiceRecognition(e stack.Event) error {
	addr, on := e.Device, e.ValueBool1
	if on && s.ConnectionState(addr) != profile.StateConnected {
		return errors.Wrapf(profile.ErrNotConnected, "%v: voice recognition", addr)
	}

	s.mu.Lock()
	if cur := s.vr.device; cur != "" && cur != addr {
		s.mu.Unlock()
		return errors.Errorf("%v: voice recognition held by %v", addr, cur)
	}
	if on {
		s.vr = voiceState{device: addr, active: true}
	} else {
		s.vr = voiceState{}
	}
	s.mu.Unlock()

	s.timers.Cancel(voiceKey(addr))
	s.notify(func(l Listener) { l.OnVoiceRecognitionChanged(addr, on) })
	return nil
}
