package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rigado/profile"
)

// Kind is the logical purpose of a timeout.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindDialOut
	KindVoiceRecognition
	KindUnlockConfirm
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDialOut:
		return "dial-out"
	case KindVoiceRecognition:
		return "voice-recognition"
	case KindUnlockConfirm:
		return "unlock-confirm"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Key identifies one pending timer. Device or Group may be left zero when
// the timer is per service or per device.
type Key struct {
	Kind   Kind
	Device profile.Addr
	Group  int
}

func (k Key) String() string {
	return fmt.Sprintf("%v/%v/%d", k.Kind, k.Device, k.Group)
}

// Scheduler keeps at most one timer per Key. Timers fire on the worker, so
// they are ordered with every other task of the worker.
type Scheduler struct {
	w *Worker

	mu      sync.Mutex
	pending map[Key]*Task
}

func NewScheduler(w *Worker) *Scheduler {
	return &Scheduler{w: w, pending: make(map[Key]*Task)}
}

// Start arms the timer for k, superseding any timer already armed for k.
func (s *Scheduler) Start(k Key, d time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pending[k]; ok {
		old.Cancel()
		delete(s.pending, k)
	}

	var t *Task
	t, err := s.w.PostDelayed(d, func() {
		s.mu.Lock()
		cur, ok := s.pending[k]
		if !ok || cur != t {
			s.mu.Unlock()
			return
		}
		delete(s.pending, k)
		s.mu.Unlock()
		fn()
	})
	if err != nil {
		return err
	}
	s.pending[k] = t
	return nil
}

// Cancel disarms the timer for k. It reports whether one was pending.
func (s *Scheduler) Cancel(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[k]
	if !ok {
		return false
	}
	delete(s.pending, k)
	return t.Cancel()
}

// Pending reports whether a timer is armed for k.
func (s *Scheduler) Pending(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[k]
	return ok
}

// CancelAll disarms every timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.pending {
		t.Cancel()
		delete(s.pending, k)
	}
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
