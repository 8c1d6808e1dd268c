package link

import (
	"io"

	"github.com/rigado/profile/stack"
)

// Peer is the native side of a link: it reads commands and writes events.
// Simulators and tests use it.
type Peer struct {
	fw *frameWriter
	fr *frameReader
}

func NewPeer(rw io.ReadWriter) *Peer {
	return &Peer{
		fw: newFrameWriter(rw, DefaultMaxFrameSize),
		fr: newFrameReader(rw, DefaultMaxFrameSize),
	}
}

// ReadCommand blocks until the next command arrives.
func (p *Peer) ReadCommand() (stack.Command, error) {
	b, err := p.fr.readFrame()
	if err != nil {
		return stack.Command{}, err
	}
	m, err := decode(b)
	if err != nil {
		return stack.Command{}, err
	}
	return m.Command()
}

// SendEvent writes e to the host.
func (p *Peer) SendEvent(e stack.Event) error {
	b, err := encode(EventMessage(e))
	if err != nil {
		return err
	}
	return p.fw.writeFrame(b)
}
