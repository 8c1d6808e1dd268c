package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/profile"
)

func positive(name string, d time.Duration) error {
	if d <= 0 {
		return errors.Errorf("%s must be positive, got %v", name, d)
	}
	return nil
}

// SetConnectTimeout sets the timeout of Connecting and Disconnecting.
func (s *Service) SetConnectTimeout(d time.Duration) error {
	if err := positive("connect timeout", d); err != nil {
		return err
	}
	s.connectTmo = d
	return nil
}

// SetUnlockTimeout sets how long an unlock waits for the peer.
func (s *Service) SetUnlockTimeout(d time.Duration) error {
	if err := positive("unlock timeout", d); err != nil {
		return err
	}
	s.unlockTmo = d
	return nil
}

// SetVoiceRecognitionTimeout sets how long voice recognition may take to start.
func (s *Service) SetVoiceRecognitionTimeout(d time.Duration) error {
	if err := positive("voice recognition timeout", d); err != nil {
		return err
	}
	s.vrTmo = d
	return nil
}

// SetJoinTimeout sets how long Stop waits for the worker.
func (s *Service) SetJoinTimeout(d time.Duration) error {
	if err := positive("join timeout", d); err != nil {
		return err
	}
	s.joinTmo = d
	return nil
}

// SetMaxConnections limits how many devices may be connecting or connected.
func (s *Service) SetMaxConnections(n int) error {
	if n < 1 {
		return errors.Errorf("max connections must be at least 1, got %d", n)
	}
	s.maxConns = n
	return nil
}

// SetRequiredUUID sets the service uuid Connect requires.
func (s *Service) SetRequiredUUID(u uuid.UUID) error {
	s.required = u
	return nil
}

// SetGrouping enables coordinated set handling.
func (s *Service) SetGrouping(enable bool) error {
	s.grouping = enable
	return nil
}

// SetRelatedProfiles sets the profiles mirrored by the group policy pass.
func (s *Service) SetRelatedProfiles(ids []profile.ProfileID) error {
	s.related = append([]profile.ProfileID(nil), ids...)
	return nil
}

// SetAdapter overrides the default static adapter.
func (s *Service) SetAdapter(a profile.Adapter) error {
	if a == nil {
		return errors.New("nil adapter")
	}
	s.adapter = a
	return nil
}

func (s *Service) SetRedirector(fn func(profile.Addr) bool) error {
	s.redirect = fn
	return nil
}

// SetAudioGate sets the AudioGate voice recognition waits on.
func (s *Service) SetAudioGate(g interface{}) error {
	gate, ok := g.(AudioGate)
	if !ok {
		return errors.Errorf("unknown audio gate type %T", g)
	}
	s.gate = gate
	return nil
}
