package service

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/statemachine"
)

var ErrAlreadyStarted = errors.New("service already started")

// Start runs the worker and registers with the native stack. A service can
// be started once; a failed Start leaves it stopped with its store closed.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.running = true
	s.mu.Unlock()

	if err := s.w.Start(); err != nil {
		return s.abortStart(errors.Wrap(err, "can't start worker"))
	}
	if err := s.bc.Start(); err != nil {
		return s.abortStart(errors.Wrap(err, "can't start broadcast queue"))
	}
	if s.native != nil {
		if err := s.native.Init(s.HandleStackEvent); err != nil {
			return s.abortStart(errors.Wrap(err, "can't init native stack"))
		}
	}
	s.log.Infof("started")
	return nil
}

func (s *Service) abortStart(err error) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if qerr := s.w.Quit(s.joinTmo); qerr != nil {
		s.log.Warnf("%v", qerr)
	}
	if qerr := s.bc.Quit(s.joinTmo); qerr != nil {
		s.log.Warnf("%v", qerr)
	}
	if cerr := s.store.Close(); cerr != nil {
		s.log.Errorf("can't close store: %v", cerr)
	}
	return err
}

// Stop tears the service down. Lookups through a Holder fail from the first
// step on.
func (s *Service) Stop() {
	// stop accepting work
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	if s.native != nil {
		s.native.Cleanup()
	}

	// quit and release every machine on the worker, then drop every timer
	done := make(chan struct{})
	if _, err := s.w.Post(func() {
		s.quitMachines()
		close(done)
	}); err == nil {
		select {
		case <-done:
		case <-time.After(s.joinTmo):
			s.log.Warnf("state machines did not quit within %v", s.joinTmo)
		}
	}
	s.timers.CancelAll()

	// shut down the worker
	if err := s.w.Quit(s.joinTmo); err != nil {
		s.log.Warnf("%v", err)
	}

	// clear state
	s.mu.Lock()
	s.machines = make(map[profile.Addr]*statemachine.Machine)
	s.active = ""
	s.vr = voiceState{}
	s.mu.Unlock()
	s.groups.Reset()

	// release resources
	if err := s.bc.Quit(s.joinTmo); err != nil {
		s.log.Warnf("%v", err)
	}
	if err := s.store.Close(); err != nil {
		s.log.Errorf("can't close store: %v", err)
	}
	s.log.Infof("stopped")
}

func (s *Service) quitMachines() {
	for _, m := range s.snapshot() {
		m.Quit()
		s.mu.Lock()
		delete(s.machines, m.Addr())
		s.mu.Unlock()
	}
}
