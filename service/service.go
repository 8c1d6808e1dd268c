// Package service runs one profile: it owns the per-device state machines,
// the worker they run on, the timers and the group coordinator, and exposes
// the profile operations to applications.
package service

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/group"
	"github.com/rigado/profile/policy"
	"github.com/rigado/profile/stack"
	"github.com/rigado/profile/statemachine"
	"github.com/rigado/profile/worker"
)

type handlerFn func(e stack.Event) error

// Service is a running profile service.
type Service struct {
	id     profile.ProfileID
	native stack.Native
	store  policy.Store
	log    profile.Logger

	adapter  profile.Adapter
	gate     AudioGate
	redirect func(profile.Addr) bool

	connectTmo time.Duration
	unlockTmo  time.Duration
	vrTmo      time.Duration
	joinTmo    time.Duration
	maxConns   int
	required   uuid.UUID
	grouping   bool
	related    []profile.ProfileID

	w      *worker.Worker
	bc     *worker.Worker
	timers *worker.Scheduler
	groups *group.Coordinator

	evth map[stack.EventType]handlerFn

	mu       sync.RWMutex
	machines map[profile.Addr]*statemachine.Machine
	started  bool
	running  bool
	active   profile.Addr
	vr       voiceState

	lmu       sync.Mutex
	listeners map[int]Listener
	lseq      int
}

// New returns a stopped service for profile id. A nil store keeps policies
// in memory. The service owns store and closes it on Stop.
func New(id profile.ProfileID, native stack.Native, store policy.Store, opts ...profile.Option) (*Service, error) {
	if store == nil {
		store = policy.NewMemoryStore()
	}
	s := &Service{
		id:         id,
		native:     native,
		store:      store,
		log:        profile.GetLogger().ChildLogger(map[string]interface{}{"profile": id.String()}),
		adapter:    profile.NewStaticAdapter(),
		connectTmo: profile.DefaultConnectTimeout,
		unlockTmo:  profile.DefaultUnlockTimeout,
		vrTmo:      profile.DefaultVoiceRecognitionTimeout,
		joinTmo:    profile.DefaultJoinTimeout,
		maxConns:   profile.DefaultMaxConnections,
		machines:   make(map[profile.Addr]*statemachine.Machine),
		listeners:  make(map[int]Listener),
	}
	if err := s.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}

	s.w = worker.New(id.String())
	s.bc = worker.New(id.String() + "-broadcast")
	s.timers = worker.NewScheduler(s.w)
	s.groups = group.New(group.Config{
		Native:        (*lockNative)(s),
		Timers:        s.timers,
		Policies:      s.store,
		Related:       s.related,
		Forbid:        s.forbid,
		Announce:      s.announceSetMember,
		Post:          s.broadcast,
		UnlockTimeout: s.unlockTmo,
	})

	s.evth = map[stack.EventType]handlerFn{
		stack.EventConnectionStateChanged:  s.handleConnectionState,
		stack.EventDeviceAvailable:         s.handleDeviceAvailable,
		stack.EventSetMemberAvailable:      s.handleSetMemberAvailable,
		stack.EventGroupLockChanged:        s.handleGroupLockChanged,
		stack.EventVoiceRecognitionChanged: s.handleVoiceRecognition,
	}
	return s, nil
}

// Option sets the options specified.
func (s *Service) Option(opts ...profile.Option) error {
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ProfileID() profile.ProfileID {
	return s.id
}

// Running reports whether the service accepts work.
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Flush waits until the worker and the broadcast queue processed everything
// posted before the call.
func (s *Service) Flush(timeout time.Duration) error {
	if err := s.w.Flush(timeout); err != nil {
		return err
	}
	return s.bc.Flush(timeout)
}

func (s *Service) post(fn func()) error {
	if _, err := s.w.Post(fn); err != nil {
		return errors.Wrap(profile.ErrNotRunning, err.Error())
	}
	return nil
}

// broadcast queues fn on the ordered broadcast queue.
func (s *Service) broadcast(fn func()) {
	if _, err := s.bc.Post(fn); err != nil {
		s.log.Debugf("broadcast dropped: %v", err)
	}
}

func (s *Service) machine(addr profile.Addr) *statemachine.Machine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machines[addr]
}

// obtainMachine returns the machine of addr, creating it when running.
func (s *Service) obtainMachine(addr profile.Addr) (*statemachine.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, profile.ErrNotRunning
	}
	m, ok := s.machines[addr]
	if !ok {
		m = statemachine.New(addr, (*machineEnv)(s))
		s.machines[addr] = m
		s.log.Debugf("created state machine for %v", addr)
	}
	return m, nil
}

// snapshot returns the machines sorted by address.
func (s *Service) snapshot() []*statemachine.Machine {
	s.mu.RLock()
	mm := make([]*statemachine.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		mm = append(mm, m)
	}
	s.mu.RUnlock()
	sort.Slice(mm, func(i, j int) bool { return mm[i].Addr() < mm[j].Addr() })
	return mm
}

// releaseIfUnused drops the machine of addr once it rests in Disconnected
// and the device is not bonded.
func (s *Service) releaseIfUnused(addr profile.Addr) {
	if s.adapter.BondState(addr) == profile.BondBonded {
		return
	}
	s.releaseMachine(addr)
}

// releaseMachine drops the machine of addr if it is Disconnected with no
// deferred request.
func (s *Service) releaseMachine(addr profile.Addr) {
	s.mu.Lock()
	m, ok := s.machines[addr]
	if !ok || m.State() != profile.StateDisconnected || m.HasPending() {
		s.mu.Unlock()
		return
	}
	delete(s.machines, addr)
	s.mu.Unlock()

	m.Quit()
	s.log.Debugf("released state machine for %v", addr)
}
