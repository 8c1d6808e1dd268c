package stack

import "github.com/rigado/profile"

// Handler receives events from the native stack. It may be called from any
// goroutine.
type Handler func(Event)

// Native is the command side of the native stack. Every command only
// reports whether the call itself was accepted. Outcomes arrive later as
// events on the Handler passed to Init.
type Native interface {
	Init(h Handler) error
	Cleanup()

	Connect(addr profile.Addr) error
	Disconnect(addr profile.Addr) error
	SetLock(groupID int, lock bool) error
	StartVoiceRecognition(addr profile.Addr) error
	StopVoiceRecognition(addr profile.Addr) error
}

// Op names a native command, used by the link codec and by recorders.
type Op uint8

const (
	OpNone Op = iota
	OpConnect
	OpDisconnect
	OpSetLock
	OpStartVoiceRecognition
	OpStopVoiceRecognition
)

func (o Op) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpDisconnect:
		return "disconnect"
	case OpSetLock:
		return "setLock"
	case OpStartVoiceRecognition:
		return "startVoiceRecognition"
	case OpStopVoiceRecognition:
		return "stopVoiceRecognition"
	default:
		return "none"
	}
}

// Command is a native command as data.
type Command struct {
	Op      Op
	Device  profile.Addr
	GroupID int
	Lock    bool
}
