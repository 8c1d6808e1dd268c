package statemachine

import "github.com/rigado/profile"

// InputKind identifies what reached the machine.
type InputKind int

const (
	InputConnect InputKind = iota + 1
	InputDisconnect
	InputStackEvent
	InputTimeout
)

func (k InputKind) String() string {
	switch k {
	case InputConnect:
		return "CONNECT"
	case InputDisconnect:
		return "DISCONNECT"
	case InputStackEvent:
		return "STACK_EVENT"
	case InputTimeout:
		return "CONNECT_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Input is one message for a machine. State is only meaningful for stack
// events. Admitted carries the admission decision when NeedsAdmission is true.
type Input struct {
	Kind     InputKind
	State    profile.State
	Admitted bool
}

func (in Input) String() string {
	if in.Kind == InputStackEvent {
		return in.Kind.String() + "(" + in.State.String() + ")"
	}
	return in.Kind.String()
}

// Command is the native command a step issues before moving on.
type Command int

const (
	CommandNone Command = iota
	CommandConnect
	CommandDisconnect
)

// Step is the outcome of one input.
type Step struct {
	Command Command

	// Next is the state once the command was accepted, or when there is no
	// command. OnReject is the state when the native stack rejects it.
	Next     profile.State
	OnReject profile.State

	// Defer parks the input until the current state is left.
	Defer bool

	// Synthesize feeds a DISCONNECTED stack event once the command was issued.
	Synthesize bool

	// Note explains why an input was ignored or refused.
	Note string
}

func stay(s profile.State, note string) Step {
	return Step{Next: s, OnReject: s, Note: note}
}

func moveTo(s profile.State) Step {
	return Step{Next: s, OnReject: s}
}

func issue(c Command, next, onReject profile.State) Step {
	return Step{Command: c, Next: next, OnReject: onReject}
}

// NeedsAdmission reports whether Transition uses in.Admitted for (s, in).
func NeedsAdmission(s profile.State, in Input) bool {
	switch in.Kind {
	case InputConnect:
		return s == profile.StateDisconnected
	case InputStackEvent:
		if s != profile.StateDisconnected && s != profile.StateDisconnecting {
			return false
		}
		return in.State == profile.StateConnecting || in.State == profile.StateConnected
	}
	return false
}

// Transition maps the current state and an input to a Step. It has no side
// effects.
func Transition(s profile.State, in Input) Step {
	switch s {
	case profile.StateDisconnected:
		return fromDisconnected(in)
	case profile.StateConnecting:
		return fromConnecting(in)
	case profile.StateConnected:
		return fromConnected(in)
	case profile.StateDisconnecting:
		return fromDisconnecting(in)
	}
	return stay(s, "invalid state")
}

func fromDisconnected(in Input) Step {
	const s = profile.StateDisconnected
	switch in.Kind {
	case InputConnect:
		if !in.Admitted {
			return stay(s, "outgoing connection rejected")
		}
		return issue(CommandConnect, profile.StateConnecting, s)
	case InputDisconnect:
		return stay(s, "already disconnected")
	case InputTimeout:
		return stay(s, "stale timeout")
	case InputStackEvent:
		switch in.State {
		case profile.StateConnecting, profile.StateConnected:
			if !in.Admitted {
				st := issue(CommandDisconnect, s, s)
				st.Note = "incoming connection rejected"
				return st
			}
			return moveTo(in.State)
		case profile.StateDisconnected:
			return stay(s, "")
		}
		return stay(s, "ignoring "+in.State.String())
	}
	return stay(s, "unexpected input")
}

func fromConnecting(in Input) Step {
	const s = profile.StateConnecting
	switch in.Kind {
	case InputConnect:
		return Step{Next: s, OnReject: s, Defer: true}
	case InputDisconnect:
		return issue(CommandDisconnect, profile.StateDisconnected, profile.StateDisconnected)
	case InputTimeout:
		st := issue(CommandDisconnect, s, s)
		st.Synthesize = true
		return st
	case InputStackEvent:
		switch in.State {
		case profile.StateConnected, profile.StateDisconnected, profile.StateDisconnecting:
			return moveTo(in.State)
		}
		return stay(s, "")
	}
	return stay(s, "unexpected input")
}

func fromConnected(in Input) Step {
	const s = profile.StateConnected
	switch in.Kind {
	case InputConnect:
		return stay(s, "already connected")
	case InputDisconnect:
		return issue(CommandDisconnect, profile.StateDisconnecting, profile.StateDisconnected)
	case InputTimeout:
		return stay(s, "stale timeout")
	case InputStackEvent:
		switch in.State {
		case profile.StateDisconnected, profile.StateDisconnecting:
			return moveTo(in.State)
		case profile.StateConnected:
			return stay(s, "")
		}
		return stay(s, "ignoring "+in.State.String())
	}
	return stay(s, "unexpected input")
}

func fromDisconnecting(in Input) Step {
	const s = profile.StateDisconnecting
	switch in.Kind {
	case InputConnect, InputDisconnect:
		return Step{Next: s, OnReject: s, Defer: true}
	case InputTimeout:
		st := issue(CommandDisconnect, s, s)
		st.Synthesize = true
		return st
	case InputStackEvent:
		switch in.State {
		case profile.StateDisconnected:
			return moveTo(in.State)
		case profile.StateConnected, profile.StateConnecting:
			if !in.Admitted {
				st := issue(CommandDisconnect, s, s)
				st.Note = "incoming connection rejected"
				return st
			}
			return moveTo(in.State)
		}
		return stay(s, "")
	}
	return stay(s, "unexpected input")
}

// EffectKind is an entry/exit side effect of a state change.
type EffectKind int

const (
	EffectCancelTimer EffectKind = iota + 1
	EffectStartTimer
	EffectBroadcast
	EffectConnectionChanged
)

type Effect struct {
	Kind     EffectKind
	From, To profile.State
}

// Effects lists, in execution order, what leaving from and entering to
// requires. It is empty when from == to.
func Effects(from, to profile.State) []Effect {
	if from == to {
		return nil
	}

	var ee []Effect
	if from.Transient() {
		ee = append(ee, Effect{Kind: EffectCancelTimer, From: from, To: to})
	}
	if to.Transient() {
		ee = append(ee, Effect{Kind: EffectStartTimer, From: from, To: to})
	}
	ee = append(ee, Effect{Kind: EffectBroadcast, From: from, To: to})
	if from == profile.StateConnected || to == profile.StateConnected {
		ee = append(ee, Effect{Kind: EffectConnectionChanged, From: from, To: to})
	}
	return ee
}
