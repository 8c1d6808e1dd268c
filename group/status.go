package group

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rigado/profile"
	"github.com/rigado/profile/stack"
)

// Status is the result code reported to lock owners.
type Status int

const (
	StatusSuccess Status = iota
	StatusInvalidGroupID
	StatusLockedByOther
	StatusGroupNotConnected
	StatusLockedGroupMemberLost
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidGroupID:
		return "INVALID_GROUP_ID"
	case StatusLockedByOther:
		return "LOCKED_BY_OTHER"
	case StatusGroupNotConnected:
		return "GROUP_NOT_CONNECTED"
	case StatusLockedGroupMemberLost:
		return "LOCKED_GROUP_MEMBER_LOST"
	case StatusUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// statusFromNative translates a native lock status.
func statusFromNative(s stack.LockStatus) Status {
	switch s {
	case stack.LockSuccess:
		return StatusSuccess
	case stack.LockFailedInvalidGroup:
		return StatusInvalidGroupID
	case stack.LockFailedGroupEmpty, stack.LockFailedGroupNotConnected:
		return StatusGroupNotConnected
	case stack.LockFailedLockedByOther:
		return StatusLockedByOther
	case stack.LockedGroupMemberLost:
		return StatusLockedGroupMemberLost
	default:
		return StatusUnknown
	}
}

// LockCallback receives the outcome of lock and unlock requests.
type LockCallback func(groupID int, status Status, locked bool)

// MemberCallback receives set member available notifications.
type MemberCallback func(addr profile.Addr, groupID int)

// Executor runs a callback, typically on the caller's own goroutine or queue.
type Executor func(func())

// LockToken is an outstanding lock on a group.
type LockToken struct {
	GroupID  int
	UUID     uuid.UUID
	Callback LockCallback
}

type registration struct {
	id      int
	context uuid.UUID
	cb      MemberCallback
	exec    Executor
}
