package stack

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rigado/profile"
)

// EventType discriminates the payload of an Event.
type EventType int

const (
	EventNone EventType = iota
	EventConnectionStateChanged
	EventDeviceAvailable
	EventSetMemberAvailable
	EventGroupLockChanged
	EventVoiceRecognitionChanged
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "EVENT_NONE"
	case EventConnectionStateChanged:
		return "CONNECTION_STATE_CHANGED"
	case EventDeviceAvailable:
		return "DEVICE_AVAILABLE"
	case EventSetMemberAvailable:
		return "SET_MEMBER_AVAILABLE"
	case EventGroupLockChanged:
		return "GROUP_LOCK_CHANGED"
	case EventVoiceRecognitionChanged:
		return "VOICE_RECOGNITION_CHANGED"
	default:
		return fmt.Sprintf("EVENT_UNKNOWN(%d)", int(t))
	}
}

// Event is a notification from the native stack. Which values are
// meaningful depends on Type:
//
//	CONNECTION_STATE_CHANGED   ValueInt1 state
//	DEVICE_AVAILABLE           ValueInt1 group id, ValueInt2 size, ValueInt3 rank, ValueUUID1 type
//	SET_MEMBER_AVAILABLE       ValueInt1 group id
//	GROUP_LOCK_CHANGED         ValueInt1 group id, ValueInt2 status, ValueBool1 locked
//	VOICE_RECOGNITION_CHANGED  ValueBool1 active
//
// Events are passed by value and never modified after construction.
type Event struct {
	Type       EventType
	Device     profile.Addr
	ValueInt1  int
	ValueInt2  int
	ValueInt3  int
	ValueBool1 bool
	ValueUUID1 uuid.UUID
}

func NewConnectionStateEvent(addr profile.Addr, s profile.State) Event {
	return Event{Type: EventConnectionStateChanged, Device: addr, ValueInt1: int(s)}
}

func NewDeviceAvailableEvent(addr profile.Addr, groupID, size, rank int, typ uuid.UUID) Event {
	return Event{
		Type:       EventDeviceAvailable,
		Device:     addr,
		ValueInt1:  groupID,
		ValueInt2:  size,
		ValueInt3:  rank,
		ValueUUID1: typ,
	}
}

func NewSetMemberAvailableEvent(addr profile.Addr, groupID int) Event {
	return Event{Type: EventSetMemberAvailable, Device: addr, ValueInt1: groupID}
}

func NewGroupLockChangedEvent(groupID int, status LockStatus, locked bool) Event {
	return Event{Type: EventGroupLockChanged, ValueInt1: groupID, ValueInt2: int(status), ValueBool1: locked}
}

func NewVoiceRecognitionEvent(addr profile.Addr, active bool) Event {
	return Event{Type: EventVoiceRecognitionChanged, Device: addr, ValueBool1: active}
}

// State returns the connection state of a CONNECTION_STATE_CHANGED event.
func (e Event) State() profile.State {
	return profile.State(e.ValueInt1)
}

func (e Event) String() string {
	s := fmt.Sprintf("%v device:%v", e.Type, e.Device)
	switch e.Type {
	case EventConnectionStateChanged:
		s += fmt.Sprintf(" state:%v", e.State())
	case EventDeviceAvailable:
		s += fmt.Sprintf(" group:%d size:%d rank:%d type:%v", e.ValueInt1, e.ValueInt2, e.ValueInt3, e.ValueUUID1)
	case EventSetMemberAvailable:
		s += fmt.Sprintf(" group:%d", e.ValueInt1)
	case EventGroupLockChanged:
		s += fmt.Sprintf(" group:%d status:%v locked:%v", e.ValueInt1, LockStatus(e.ValueInt2), e.ValueBool1)
	case EventVoiceRecognitionChanged:
		s += fmt.Sprintf(" active:%v", e.ValueBool1)
	}
	return s
}

// LockStatus is the status reported by the native stack for a lock request.
type LockStatus int

const (
	LockSuccess LockStatus = iota
	LockFailedInvalidGroup
	LockFailedGroupEmpty
	LockFailedGroupNotConnected
	LockFailedLockedByOther
	LockFailedOtherReason
	LockedGroupMemberLost
)

func (s LockStatus) String() string {
	switch s {
	case LockSuccess:
		return "success"
	case LockFailedInvalidGroup:
		return "invalid group"
	case LockFailedGroupEmpty:
		return "group empty"
	case LockFailedGroupNotConnected:
		return "group not connected"
	case LockFailedLockedByOther:
		return "locked by other"
	case LockFailedOtherReason:
		return "other reason"
	case LockedGroupMemberLost:
		return "member lost"
	default:
		return fmt.Sprintf("lock status(%d)", int(s))
	}
}
