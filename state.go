package profile

// State is the connection state of a (profile, device) pair.
// The numeric values match the values carried by native connection events.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of the four connection states.
func (s State) Valid() bool {
	return s >= StateDisconnected && s <= StateDisconnecting
}

// Transient reports whether s is waiting on the native stack.
func (s State) Transient() bool {
	return s == StateConnecting || s == StateDisconnecting
}
