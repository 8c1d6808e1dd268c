package service

import (
	"sync"

	"github.com/pkg/errors"
)

// Holder gives collaborators access to a service for its running lifetime.
// The zero value is empty.
type Holder struct {
	mu sync.RWMutex
	s  *Service
}

// Init starts s and makes it reachable through Get.
func (h *Holder) Init(s *Service) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.s != nil {
		return errors.New("holder already initialized")
	}
	if err := s.Start(); err != nil {
		return err
	}
	h.s = s
	return nil
}

// Get returns the service if it is running.
func (h *Holder) Get() (*Service, bool) {
	h.mu.RLock()
	s := h.s
	h.mu.RUnlock()
	if s == nil || !s.Running() {
		return nil, false
	}
	return s, true
}

// Teardown stops the service and clears the reference once it is down.
func (h *Holder) Teardown() {
	h.mu.RLock()
	s := h.s
	h.mu.RUnlock()
	if s == nil {
		return
	}
	s.Stop()

	h.mu.Lock()
	if h.s == s {
		h.s = nil
	}
	h.mu.Unlock()
}
