// Package link carries native stack commands and events as CBOR messages in
// length-prefixed frames over a byte stream such as a UART or a socket.
package link

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/stack"
)

// Link is a stack.Native whose peer sits at the other end of a byte stream.
// Commands are accepted once their frame is written.
type Link struct {
	rwc io.ReadWriteCloser
	fw  *frameWriter
	fr  *frameReader
	log profile.Logger

	mu      sync.Mutex
	handler stack.Handler
	closed  bool
	done    chan struct{}
}

// New wraps rwc. The link owns rwc and closes it on Cleanup.
func New(rwc io.ReadWriteCloser) *Link {
	return &Link{
		rwc: rwc,
		fw:  newFrameWriter(rwc, DefaultMaxFrameSize),
		fr:  newFrameReader(rwc, DefaultMaxFrameSize),
		log: profile.GetLogger().ChildLogger(map[string]interface{}{"component": "link"}),
	}
}

// Init starts delivering events read from the stream to h.
func (l *Link) Init(h stack.Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.handler != nil {
		return errors.New("link already initialized")
	}
	l.handler = h
	l.done = make(chan struct{})
	go l.rxLoop(h, l.done)
	return nil
}

// Cleanup closes the stream and waits for the read loop to exit.
func (l *Link) Cleanup() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	done := l.done
	l.mu.Unlock()

	if err := l.rwc.Close(); err != nil {
		l.log.Debugf("close: %v", err)
	}
	if done != nil {
		<-done
	}
}

func (l *Link) rxLoop(h stack.Handler, done chan struct{}) {
	defer close(done)
	for {
		b, err := l.fr.readFrame()
		if err != nil {
			// a bad length leaves the stream out of sync, so every read
			// error ends the loop
			if l.isClosed() || errors.Cause(err) == io.EOF {
				l.log.Debugf("rx loop exits: %v", err)
			} else {
				l.log.Errorf("rx: %v", err)
			}
			return
		}

		m, err := decode(b)
		if err != nil {
			l.log.Warnf("rx: dropping frame: %v", err)
			continue
		}
		e, err := m.StackEvent()
		if err != nil {
			l.log.Warnf("rx: dropping message: %v", err)
			continue
		}
		h(e)
	}
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) send(c stack.Command) error {
	if l.isClosed() {
		return errors.Wrapf(profile.ErrNativeCommand, "%v: %v", c.Op, ErrClosed)
	}
	b, err := encode(CommandMessage(c))
	if err != nil {
		return errors.Wrapf(profile.ErrNativeCommand, "%v: encode: %v", c.Op, err)
	}
	if err := l.fw.writeFrame(b); err != nil {
		return errors.Wrapf(profile.ErrNativeCommand, "%v: %v", c.Op, err)
	}
	return nil
}

func (l *Link) Connect(addr profile.Addr) error {
	return l.send(stack.Command{Op: stack.OpConnect, Device: addr})
}

func (l *Link) Disconnect(addr profile.Addr) error {
	return l.send(stack.Command{Op: stack.OpDisconnect, Device: addr})
}

func (l *Link) SetLock(groupID int, lock bool) error {
	return l.send(stack.Command{Op: stack.OpSetLock, GroupID: groupID, Lock: lock})
}

func (l *Link) StartVoiceRecognition(addr profile.Addr) error {
	return l.send(stack.Command{Op: stack.OpStartVoiceRecognition, Device: addr})
}

func (l *Link) StopVoiceRecognition(addr profile.Addr) error {
	return l.send(stack.Command{Op: stack.OpStopVoiceRecognition, Device: addr})
}
