package stack

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/profile"
)

const loopbackQueueSize = 64

// Loopback is an in-process native stack. It records every command and,
// when auto answering, replies with the events a controller would emit.
// Events are delivered in order from a single goroutine.
type Loopback struct {
	mu       sync.Mutex
	handler  Handler
	commands []Command

	auto          bool
	rejectConnect bool
	rejectDisc    bool

	evts chan Event
	done chan struct{}
	wg   sync.WaitGroup
}

type LoopbackOption func(*Loopback)

// LoopbackAutoAnswer makes the loopback answer commands with events.
func LoopbackAutoAnswer(auto bool) LoopbackOption {
	return func(l *Loopback) { l.auto = auto }
}

// LoopbackRejectConnect makes Connect fail synchronously.
func LoopbackRejectConnect(reject bool) LoopbackOption {
	return func(l *Loopback) { l.rejectConnect = reject }
}

// LoopbackRejectDisconnect makes Disconnect fail synchronously.
func LoopbackRejectDisconnect(reject bool) LoopbackOption {
	return func(l *Loopback) { l.rejectDisc = reject }
}

func NewLoopback(opts ...LoopbackOption) *Loopback {
	l := &Loopback{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loopback) Init(h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return errors.New("loopback already initialized")
	}

	l.handler = h
	l.evts = make(chan Event, loopbackQueueSize)
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.deliverLoop(l.evts, l.done)
	return nil
}

func (l *Loopback) Cleanup() {
	l.mu.Lock()
	done := l.done
	l.done = nil
	l.handler = nil
	l.mu.Unlock()

	if done != nil {
		close(done)
		l.wg.Wait()
	}
}

func (l *Loopback) deliverLoop(evts chan Event, done chan struct{}) {
	defer l.wg.Done()
	for {
		select {
		case <-done:
			return
		case e := <-evts:
			l.mu.Lock()
			h := l.handler
			l.mu.Unlock()
			if h != nil {
				h(e)
			}
		}
	}
}

// Inject delivers e to the handler as if the controller had sent it.
func (l *Loopback) Inject(e Event) error {
	l.mu.Lock()
	evts, done := l.evts, l.done
	l.mu.Unlock()

	if done == nil {
		return errors.New("loopback not initialized")
	}
	select {
	case evts <- e:
		return nil
	case <-done:
		return errors.New("loopback closed")
	}
}

// Commands returns the commands received so far.
func (l *Loopback) Commands() []Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Command(nil), l.commands...)
}

func (l *Loopback) record(c Command) {
	l.mu.Lock()
	l.commands = append(l.commands, c)
	l.mu.Unlock()
}

func (l *Loopback) answer(ee ...Event) {
	if !l.auto {
		return
	}
	for _, e := range ee {
		if err := l.Inject(e); err != nil {
			profile.GetLogger().Debugf("loopback: dropping %v: %v", e, err)
		}
	}
}

func (l *Loopback) Connect(addr profile.Addr) error {
	if l.rejectConnect {
		return errors.Wrapf(profile.ErrNativeCommand, "connect %v", addr)
	}
	l.record(Command{Op: OpConnect, Device: addr})
	l.answer(
		NewConnectionStateEvent(addr, profile.StateConnecting),
		NewConnectionStateEvent(addr, profile.StateConnected),
	)
	return nil
}

func (l *Loopback) Disconnect(addr profile.Addr) error {
	if l.rejectDisc {
		return errors.Wrapf(profile.ErrNativeCommand, "disconnect %v", addr)
	}
	l.record(Command{Op: OpDisconnect, Device: addr})
	l.answer(NewConnectionStateEvent(addr, profile.StateDisconnected))
	return nil
}

func (l *Loopback) SetLock(groupID int, lock bool) error {
	l.record(Command{Op: OpSetLock, GroupID: groupID, Lock: lock})
	l.answer(NewGroupLockChangedEvent(groupID, LockSuccess, lock))
	return nil
}

func (l *Loopback) StartVoiceRecognition(addr profile.Addr) error {
	l.record(Command{Op: OpStartVoiceRecognition, Device: addr})
	l.answer(NewVoiceRecognitionEvent(addr, true))
	return nil
}

func (l *Loopback) StopVoiceRecognition(addr profile.Addr) error {
	l.record(Command{Op: OpStopVoiceRecognition, Device: addr})
	l.answer(NewVoiceRecognitionEvent(addr, false))
	return nil
}
