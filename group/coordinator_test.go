package group

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rigado/profile"
	"github.com/rigado/profile/stack"
	"github.com/rigado/profile/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	left  = profile.Addr("00:00:00:00:00:01")
	right = profile.Addr("00:00:00:00:00:02")
	third = profile.Addr("00:00:00:00:00:03")
)

type fakeNative struct {
	mu    sync.Mutex
	fail  bool
	calls []string
}

func (f *fakeNative) SetLock(groupID int, lock bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("rejected")
	}
	f.calls = append(f.calls, fmt.Sprintf("%d:%v", groupID, lock))
	return nil
}

type fakeTimers struct {
	armed map[worker.Key]func()
}

func (f *fakeTimers) Start(k worker.Key, _ time.Duration, fn func()) error {
	if f.armed == nil {
		f.armed = make(map[worker.Key]func())
	}
	f.armed[k] = fn
	return nil
}

func (f *fakeTimers) Cancel(k worker.Key) bool {
	_, ok := f.armed[k]
	delete(f.armed, k)
	return ok
}

type policies map[profile.Addr]profile.ConnectionPolicy

func (p policies) ConnectionPolicy(addr profile.Addr, _ profile.ProfileID) (profile.ConnectionPolicy, error) {
	if v, ok := p[addr]; ok {
		return v, nil
	}
	return profile.PolicyUnknown, nil
}

type announced struct {
	addr    profile.Addr
	groupID int
}

type harness struct {
	*Coordinator
	native    *fakeNative
	timers    *fakeTimers
	forbidden []profile.Addr
	announced []announced
}

func newHarness(p policies) *harness {
	h := &harness{native: &fakeNative{}, timers: &fakeTimers{}}
	h.Coordinator = New(Config{
		Native:   h.native,
		Timers:   h.timers,
		Policies: p,
		Related:  []profile.ProfileID{profile.ProfileLEAudio},
		Forbid:   func(a profile.Addr) { h.forbidden = append(h.forbidden, a) },
		Announce: func(a profile.Addr, id int) { h.announced = append(h.announced, announced{a, id}) },
	})
	return h
}

func (h *harness) pair(groupID int) {
	h.RecordDeviceAvailable(right, groupID, 2, profile.CAPContextUUID, 2)
	h.RecordDeviceAvailable(left, groupID, 1, profile.CAPContextUUID, 2)
}

func TestRecordDeviceAvailableFirstWriterWins(t *testing.T) {
	h := newHarness(nil)
	h.RecordDeviceAvailable(left, 1, 1, profile.CAPContextUUID, 2)
	h.RecordDeviceAvailable(right, 1, 2, profile.VolumeControlUUID, 5)

	assert.Equal(t, 2, h.DesiredGroupSize(1))
	assert.Equal(t, []int{1}, h.AllGroupIDs(profile.CAPContextUUID))
	assert.Empty(t, h.AllGroupIDs(profile.VolumeControlUUID))
	assert.Equal(t, []profile.Addr{left, right}, h.GroupDevicesOrdered(1))
	assert.Equal(t, -1, h.DesiredGroupSize(7))
}

func TestGroupDevicesOrderedByRank(t *testing.T) {
	h := newHarness(nil)
	h.RecordDeviceAvailable(third, 4, 9, profile.CAPContextUUID, 3)
	h.RecordDeviceAvailable(left, 4, 5, profile.CAPContextUUID, 3)
	h.RecordDeviceAvailable(right, 4, 1, profile.CAPContextUUID, 3)

	assert.Equal(t, []profile.Addr{right, left, third}, h.GroupDevicesOrdered(4))
	assert.Equal(t, []int{4}, h.GroupIDs(left))
	assert.Equal(t, 4, h.GroupID(left, profile.CAPContextUUID))
	assert.Equal(t, -1, h.GroupID(left, profile.VolumeControlUUID))
}

func TestSetMemberFoundDeferredUntilConnected(t *testing.T) {
	h := newHarness(nil)
	h.pair(1)

	var got []announced
	h.RegisterCallbacks(profile.CAPContextUUID, func(a profile.Addr, id int) {
		got = append(got, announced{a, id})
	}, nil)
	h.RegisterCallbacks(profile.VolumeControlUUID, func(profile.Addr, int) {
		t.Error("callback for another context")
	}, nil)

	h.RecordSetMemberFound(right, 1)
	assert.Empty(t, h.announced)

	h.OnDeviceConnected(left, 1)
	assert.Equal(t, []announced{{right, 1}}, h.announced)
	assert.Equal(t, []announced{{right, 1}}, got)

	// delivered once only
	h.OnDeviceDisconnected(left, 1)
	h.OnDeviceConnected(left, 1)
	assert.Len(t, h.announced, 1)
}

func TestSetMemberFoundImmediate(t *testing.T) {
	h := newHarness(nil)
	h.pair(1)
	h.OnDeviceConnected(left, 1)

	var ran int
	exec := func(fn func()) { ran++; fn() }
	unregister := h.RegisterCallbacks(profile.CAPContextUUID, func(profile.Addr, int) {}, exec)

	h.RecordSetMemberFound(right, 1)
	assert.Equal(t, []announced{{right, 1}}, h.announced)
	assert.Equal(t, 1, ran)

	unregister()
	h.RecordSetMemberFound(third, 1)
	assert.Equal(t, 1, ran)
	assert.Len(t, h.announced, 2)
}

func TestMirrorPolicyOncePerFullGroup(t *testing.T) {
	h := newHarness(policies{right: profile.PolicyForbidden})
	h.pair(1)

	h.OnDeviceConnected(right, 1)
	assert.Equal(t, 0, h.MirrorPasses())
	h.OnDeviceConnected(left, 1)
	assert.Equal(t, 1, h.MirrorPasses())
	assert.Equal(t, []profile.Addr{right}, h.forbidden)

	// repeated connection events of members do not re-run it
	h.OnDeviceConnected(left, 1)
	h.OnDeviceConnected(right, 1)
	assert.Equal(t, 1, h.MirrorPasses())

	// leaving and reaching the size again does
	h.OnDeviceDisconnected(left, 1)
	h.OnDeviceConnected(left, 1)
	assert.Equal(t, 2, h.MirrorPasses())
}

func TestMirrorPolicyAnyOrder(t *testing.T) {
	for _, order := range [][]profile.Addr{{left, right, third}, {third, right, left}, {right, third, left}} {
		h := newHarness(nil)
		for i, a := range []profile.Addr{left, right, third} {
			h.RecordDeviceAvailable(a, 3, i, profile.CAPContextUUID, 3)
		}
		for i, a := range order {
			h.OnDeviceConnected(a, 3)
			if i < len(order)-1 {
				assert.Equal(t, 0, h.MirrorPasses())
			}
		}
		assert.Equal(t, 1, h.MirrorPasses(), "order %v", order)
	}
}

func TestConnectedNonMemberIgnored(t *testing.T) {
	h := newHarness(nil)
	h.RecordDeviceAvailable(left, 1, 1, profile.CAPContextUUID, 1)
	h.OnDeviceConnected(right, 1)
	h.OnDeviceConnected(right, 9)
	assert.Empty(t, h.ConnectedMembers(1))
	assert.Equal(t, 0, h.MirrorPasses())
}

func TestRemoveDevice(t *testing.T) {
	h := newHarness(nil)
	h.pair(1)
	h.OnDeviceConnected(left, 1)
	h.RemoveDevice(left)

	assert.Equal(t, []profile.Addr{right}, h.GroupDevicesOrdered(1))
	assert.Empty(t, h.ConnectedMembers(1))
	assert.Empty(t, h.GroupIDs(left))
}

func TestLockExclusive(t *testing.T) {
	h := newHarness(nil)
	h.pair(1)

	u, s := h.Lock(1, nil)
	require.Equal(t, StatusSuccess, s)
	assert.NotEqual(t, uuid.Nil, u)
	assert.True(t, h.IsLocked(1))

	u2, s := h.Lock(1, nil)
	assert.Equal(t, StatusLockedByOther, s)
	assert.Equal(t, uuid.Nil, u2)
	assert.Equal(t, []string{"1:true"}, h.native.calls)

	owner, ok := h.LockOwner(1)
	assert.True(t, ok)
	assert.Equal(t, u, owner)
}

func TestLockInvalidGroup(t *testing.T) {
	h := newHarness(nil)
	_, s := h.Lock(3, nil)
	assert.Equal(t, StatusInvalidGroupID, s)
	assert.Empty(t, h.native.calls)
}

func TestLockNativeFailure(t *testing.T) {
	h := newHarness(nil)
	h.pair(1)
	h.native.fail = true

	_, s := h.Lock(1, nil)
	assert.Equal(t, StatusUnknown, s)
	assert.False(t, h.IsLocked(1))
}

func TestUnlockWaitsForPeer(t *testing.T) {
	h := newHarness(nil)
	h.pair(1)

	type result struct {
		status Status
		locked bool
	}
	var got []result
	u, _ := h.Lock(1, func(_ int, s Status, locked bool) { got = append(got, result{s, locked}) })

	h.OnLockChanged(1, stack.LockSuccess, true)
	assert.Equal(t, []result{{StatusSuccess, true}}, got)

	require.True(t, h.Unlock(u))
	assert.True(t, h.IsLocked(1))
	assert.Contains(t, h.timers.armed, unlockKey(1))

	h.OnLockChanged(1, stack.LockSuccess, false)
	assert.False(t, h.IsLocked(1))
	assert.NotContains(t, h.timers.armed, unlockKey(1))
	assert.Equal(t, []result{{StatusSuccess, true}, {StatusSuccess, false}}, got)

	assert.False(t, h.Unlock(u))
}

func TestUnlockConfirmTimeout(t *testing.T) {
	h := newHarness(nil)
	h.pair(1)

	var calls int
	u, _ := h.Lock(1, func(_ int, s Status, locked bool) {
		calls++
		assert.Equal(t, StatusSuccess, s)
		assert.False(t, locked)
	})
	h.Unlock(u)

	fire := h.timers.armed[unlockKey(1)]
	require.NotNil(t, fire)
	fire()
	assert.False(t, h.IsLocked(1))
	assert.Equal(t, 1, calls)

	// a late confirmation finds no owner
	h.OnLockChanged(1, stack.LockSuccess, false)
	assert.Equal(t, 1, calls)
}

func TestLockFailureReported(t *testing.T) {
	h := newHarness(nil)
	h.pair(1)

	var got Status
	h.Lock(1, func(_ int, s Status, _ bool) { got = s })
	h.OnLockChanged(1, stack.LockFailedLockedByOther, false)

	assert.Equal(t, StatusLockedByOther, got)
	assert.False(t, h.IsLocked(1))
}

func TestReset(t *testing.T) {
	h := newHarness(nil)
	h.pair(1)
	u, _ := h.Lock(1, nil)
	h.Unlock(u)

	h.Reset()
	assert.False(t, h.IsLocked(1))
	assert.Equal(t, -1, h.DesiredGroupSize(1))
	assert.Empty(t, h.timers.armed)
}

func TestStatusFromNative(t *testing.T) {
	assert.Equal(t, StatusGroupNotConnected, statusFromNative(stack.LockFailedGroupEmpty))
	assert.Equal(t, StatusLockedGroupMemberLost, statusFromNative(stack.LockedGroupMemberLost))
	assert.Equal(t, StatusUnknown, statusFromNative(stack.LockFailedOtherReason))
	assert.Equal(t, "LOCKED_BY_OTHER", StatusLockedByOther.String())
}
