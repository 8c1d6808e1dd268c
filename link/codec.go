package link

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/stack"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder mode: %v", err))
	}
}

// MessageKind tells commands from events on the wire.
type MessageKind uint8

const (
	KindCommand MessageKind = iota + 1
	KindEvent
)

// Message is the wire form of a host command or a native event.
type Message struct {
	Kind   MessageKind `cbor:"1,keyasint"`
	Device string      `cbor:"2,keyasint,omitempty"`

	// command
	Op      stack.Op `cbor:"3,keyasint,omitempty"`
	GroupID int      `cbor:"4,keyasint,omitempty"`
	Lock    bool     `cbor:"5,keyasint,omitempty"`

	// event
	Event      stack.EventType `cbor:"6,keyasint,omitempty"`
	ValueInt1  int             `cbor:"7,keyasint,omitempty"`
	ValueInt2  int             `cbor:"8,keyasint,omitempty"`
	ValueInt3  int             `cbor:"9,keyasint,omitempty"`
	ValueBool1 bool            `cbor:"10,keyasint,omitempty"`
	ValueUUID1 []byte          `cbor:"11,keyasint,omitempty"`
}

// CommandMessage is the wire form of c.
func CommandMessage(c stack.Command) Message {
	return Message{
		Kind:    KindCommand,
		Device:  c.Device.String(),
		Op:      c.Op,
		GroupID: c.GroupID,
		Lock:    c.Lock,
	}
}

// EventMessage is the wire form of e.
func EventMessage(e stack.Event) Message {
	m := Message{
		Kind:       KindEvent,
		Device:     e.Device.String(),
		Event:      e.Type,
		ValueInt1:  e.ValueInt1,
		ValueInt2:  e.ValueInt2,
		ValueInt3:  e.ValueInt3,
		ValueBool1: e.ValueBool1,
	}
	if e.ValueUUID1 != uuid.Nil {
		m.ValueUUID1 = e.ValueUUID1[:]
	}
	return m
}

// Command returns the command carried by m.
func (m Message) Command() (stack.Command, error) {
	if m.Kind != KindCommand {
		return stack.Command{}, errors.Errorf("message kind %d is not a command", m.Kind)
	}
	return stack.Command{
		Op:      m.Op,
		Device:  profile.NewAddr(m.Device),
		GroupID: m.GroupID,
		Lock:    m.Lock,
	}, nil
}

// StackEvent returns the event carried by m.
func (m Message) StackEvent() (stack.Event, error) {
	if m.Kind != KindEvent {
		return stack.Event{}, errors.Errorf("message kind %d is not an event", m.Kind)
	}
	e := stack.Event{
		Type:       m.Event,
		Device:     profile.NewAddr(m.Device),
		ValueInt1:  m.ValueInt1,
		ValueInt2:  m.ValueInt2,
		ValueInt3:  m.ValueInt3,
		ValueBool1: m.ValueBool1,
	}
	if len(m.ValueUUID1) > 0 {
		u, err := uuid.FromBytes(m.ValueUUID1)
		if err != nil {
			return stack.Event{}, errors.Wrap(err, "event uuid")
		}
		e.ValueUUID1 = u
	}
	return e, nil
}

func encode(m Message) ([]byte, error) {
	return encMode.Marshal(m)
}

func decode(b []byte) (Message, error) {
	var m Message
	if err := decMode.Unmarshal(b, &m); err != nil {
		return Message{}, errors.Wrap(err, "decode message")
	}
	return m, nil
}
