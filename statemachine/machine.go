package statemachine

import (
	"sync"

	"github.com/rigado/profile"
)

// Env is what a Machine needs from its owning service. Every method is
// called from the service worker.
type Env interface {
	// Admit decides whether a connection may proceed. inbound is true when
	// the remote side initiated it.
	Admit(addr profile.Addr, inbound bool) bool

	NativeConnect(addr profile.Addr) error
	NativeDisconnect(addr profile.Addr) error

	StartTimer(addr profile.Addr, fire func()) error
	CancelTimer(addr profile.Addr)

	// Broadcast announces a connection state change.
	Broadcast(addr profile.Addr, from, to profile.State)

	// ConnectionChanged runs the side effects of entering or leaving
	// Connected.
	ConnectionChanged(addr profile.Addr, from, to profile.State)
}

// Machine drives the connection lifecycle of one remote device. Process and
// Quit must only be called from the service worker; State may be called
// from any goroutine.
type Machine struct {
	addr profile.Addr
	env  Env
	log  profile.Logger

	mu      sync.RWMutex
	current profile.State

	lastBroadcast profile.State
	pending       *Input
	quit          bool
}

// New returns a machine in Disconnected. Creating it broadcasts nothing.
func New(addr profile.Addr, env Env) *Machine {
	return &Machine{
		addr:          addr,
		env:           env,
		log:           profile.GetLogger().ChildLogger(map[string]interface{}{"device": addr.String()}),
		current:       profile.StateDisconnected,
		lastBroadcast: profile.StateDisconnected,
	}
}

func (m *Machine) Addr() profile.Addr {
	return m.addr
}

func (m *Machine) State() profile.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// LastBroadcastState is the state the machine was in before the latest
// transition.
func (m *Machine) LastBroadcastState() profile.State {
	return m.lastBroadcast
}

// HasPending reports whether a deferred request waits for a state exit.
func (m *Machine) HasPending() bool {
	return m.pending != nil
}

// Connect and Disconnect are shorthands for the API inputs.
func (m *Machine) Connect() {
	m.Process(Input{Kind: InputConnect})
}

func (m *Machine) Disconnect() {
	m.Process(Input{Kind: InputDisconnect})
}

// StackEvent feeds a connection state reported by the native stack.
func (m *Machine) StackEvent(s profile.State) {
	m.Process(Input{Kind: InputStackEvent, State: s})
}

// Process applies one input.
func (m *Machine) Process(in Input) {
	if m.quit {
		m.log.Debugf("dropping %v, machine quit", in)
		return
	}

	cur := m.State()
	if NeedsAdmission(cur, in) {
		in.Admitted = m.env.Admit(m.addr, in.Kind == InputStackEvent)
	}

	step := Transition(cur, in)
	if step.Defer {
		if m.pending != nil {
			m.log.Debugf("%v replaces deferred %v", in, *m.pending)
		}
		p := in
		m.pending = &p
		return
	}
	if step.Note != "" {
		m.log.Warnf("%v in %v: %s", in, cur, step.Note)
	}

	next := step.Next
	var err error
	switch step.Command {
	case CommandConnect:
		err = m.env.NativeConnect(m.addr)
	case CommandDisconnect:
		err = m.env.NativeDisconnect(m.addr)
	}
	if err != nil {
		m.log.Errorf("%v in %v: native command failed: %v", in, cur, err)
		next = step.OnReject
	}

	m.transitionTo(next)

	if step.Synthesize {
		m.log.Infof("%v in %v, forcing disconnected", in, cur)
		m.Process(Input{Kind: InputStackEvent, State: profile.StateDisconnected})
	}
}

func (m *Machine) transitionTo(next profile.State) {
	cur := m.State()
	if cur == next {
		return
	}

	m.lastBroadcast = cur
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
	m.log.Debugf("%v -> %v", cur, next)

	for _, e := range Effects(cur, next) {
		m.apply(e)
	}

	if m.pending != nil && !m.quit {
		p := *m.pending
		m.pending = nil
		m.Process(p)
	}
}

func (m *Machine) apply(e Effect) {
	switch e.Kind {
	case EffectCancelTimer:
		m.env.CancelTimer(m.addr)
	case EffectStartTimer:
		if err := m.env.StartTimer(m.addr, m.onTimeout); err != nil {
			m.log.Errorf("can't start connect timer: %v", err)
		}
	case EffectBroadcast:
		m.env.Broadcast(m.addr, e.From, e.To)
	case EffectConnectionChanged:
		m.env.ConnectionChanged(m.addr, e.From, e.To)
	}
}

func (m *Machine) onTimeout() {
	m.Process(Input{Kind: InputTimeout})
}

// Quit cancels the pending timer and drops any deferred request. The machine
// ignores every input afterwards.
func (m *Machine) Quit() {
	if m.quit {
		return
	}
	m.quit = true
	m.pending = nil
	m.env.CancelTimer(m.addr)
}
