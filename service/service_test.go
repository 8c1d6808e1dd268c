package service

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/group"
	"github.com/rigado/profile/policy"
	"github.com/rigado/profile/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	devA = profile.Addr("00:00:00:00:00:0a")
	devB = profile.Addr("00:00:00:00:00:0b")
	devC = profile.Addr("00:00:00:00:00:0c")
)

type transition struct {
	addr     profile.Addr
	from, to profile.State
}

type member struct {
	addr    profile.Addr
	groupID int
}

type voice struct {
	addr   profile.Addr
	active bool
}

type recorder struct {
	mu      sync.Mutex
	states  []transition
	members []member
	active  []profile.Addr
	voice   []voice
}

func (r *recorder) OnConnectionStateChanged(addr profile.Addr, from, to profile.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, transition{addr, from, to})
}

func (r *recorder) OnSetMemberAvailable(addr profile.Addr, groupID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, member{addr, groupID})
}

func (r *recorder) OnActiveDeviceChanged(addr profile.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, addr)
}

func (r *recorder) OnVoiceRecognitionChanged(addr profile.Addr, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voice = append(r.voice, voice{addr, active})
}

func (r *recorder) transitions(addr profile.Addr) []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []transition
	for _, tr := range r.states {
		if tr.addr == addr {
			out = append(out, tr)
		}
	}
	return out
}

func (r *recorder) voiceEvents() []voice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]voice(nil), r.voice...)
}

type fixture struct {
	t       *testing.T
	s       *Service
	native  *stack.Loopback
	adapter *profile.StaticAdapter
	store   *policy.MemoryStore
	rec     *recorder
}

func newFixture(t *testing.T, opts ...profile.Option) *fixture {
	f := &fixture{
		t:       t,
		native:  stack.NewLoopback(),
		adapter: profile.NewStaticAdapter(),
		store:   policy.NewMemoryStore(),
		rec:     &recorder{},
	}
	for _, a := range []profile.Addr{devA, devB, devC} {
		f.adapter.AddBondedDevice(a, profile.VolumeControlUUID)
	}

	base := []profile.Option{
		profile.OptAdapter(f.adapter),
		profile.OptGrouping(true),
		profile.OptJoinTimeout(time.Second),
	}
	s, err := New(profile.ProfileVCP, f.native, f.store, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	s.AddListener(f.rec)
	t.Cleanup(s.Stop)
	f.s = s
	return f
}

// flush runs the worker twice so tasks posted by tasks also complete.
func (f *fixture) flush() {
	require.NoError(f.t, f.s.Flush(time.Second))
	require.NoError(f.t, f.s.Flush(time.Second))
}

func (f *fixture) event(e stack.Event) {
	f.s.HandleStackEvent(e)
	f.flush()
}

func (f *fixture) state(addr profile.Addr, st profile.State) {
	f.event(stack.NewConnectionStateEvent(addr, st))
}

func (f *fixture) ops(addr profile.Addr) []stack.Op {
	var out []stack.Op
	for _, c := range f.native.Commands() {
		if c.Device == addr {
			out = append(out, c.Op)
		}
	}
	return out
}

func (f *fixture) connected(addr profile.Addr) {
	f.state(addr, profile.StateConnected)
	require.Equal(f.t, profile.StateConnected, f.s.ConnectionState(addr))
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.s.Connect(devA))
	f.flush()
	assert.Equal(t, []stack.Op{stack.OpConnect}, f.ops(devA))
	assert.Equal(t, profile.StateConnecting, f.s.ConnectionState(devA))

	f.state(devA, profile.StateConnecting)
	assert.Equal(t, profile.StateConnecting, f.s.ConnectionState(devA))

	f.state(devA, profile.StateConnected)
	assert.Equal(t, profile.StateConnected, f.s.ConnectionState(devA))
	assert.Equal(t, []profile.Addr{devA}, f.s.ConnectedDevices())

	require.NoError(t, f.s.Disconnect(devA))
	f.flush()
	f.state(devA, profile.StateDisconnected)
	assert.Equal(t, profile.StateDisconnected, f.s.ConnectionState(devA))

	assert.Equal(t, []transition{
		{devA, profile.StateDisconnected, profile.StateConnecting},
		{devA, profile.StateConnecting, profile.StateConnected},
		{devA, profile.StateConnected, profile.StateDisconnecting},
		{devA, profile.StateDisconnecting, profile.StateDisconnected},
	}, f.rec.transitions(devA))
	assert.Equal(t, []stack.Op{stack.OpConnect, stack.OpDisconnect}, f.ops(devA))

	st, ok, err := f.store.LastConnectionState(devA, profile.ProfileVCP)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, profile.StateDisconnected, st)
}

func TestConnectWhileConnected(t *testing.T) {
	f := newFixture(t)
	f.connected(devA)
	n := len(f.rec.transitions(devA))

	require.NoError(t, f.s.Connect(devA))
	f.flush()
	assert.Empty(t, f.ops(devA))
	assert.Len(t, f.rec.transitions(devA), n)
}

func TestConnectTimeout(t *testing.T) {
	f := newFixture(t, profile.OptConnectTimeout(50*time.Millisecond))

	require.NoError(t, f.s.Connect(devA))
	require.Eventually(t, func() bool {
		return len(f.rec.transitions(devA)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	f.flush()

	assert.Equal(t, profile.StateDisconnected, f.s.ConnectionState(devA))
	assert.Equal(t, []transition{
		{devA, profile.StateDisconnected, profile.StateConnecting},
		{devA, profile.StateConnecting, profile.StateDisconnected},
	}, f.rec.transitions(devA))
	assert.Equal(t, []stack.Op{stack.OpConnect, stack.OpDisconnect}, f.ops(devA))

	st, ok, err := f.store.LastConnectionState(devA, profile.ProfileVCP)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, profile.StateDisconnected, st)
}

func TestNoConsecutiveDuplicateBroadcasts(t *testing.T) {
	f := newFixture(t)
	for _, st := range []profile.State{
		profile.StateConnecting, profile.StateConnected, profile.StateConnected,
		profile.StateDisconnected, profile.StateDisconnected, profile.StateConnected,
		profile.StateDisconnecting, profile.StateConnected,
	} {
		f.state(devA, st)
	}

	tt := f.rec.transitions(devA)
	require.NotEmpty(t, tt)
	for i := 1; i < len(tt); i++ {
		assert.NotEqual(t, tt[i-1].to, tt[i].to)
		assert.Equal(t, tt[i-1].to, tt[i].from)
	}
}

func TestConnectPreconditions(t *testing.T) {
	f := newFixture(t,
		profile.OptRequiredUUID(profile.VolumeControlUUID),
		profile.OptRedirector(func(a profile.Addr) bool { return a == devC }))

	require.NoError(t, f.store.SetConnectionPolicy(devA, profile.ProfileVCP, profile.PolicyForbidden))
	err := f.s.Connect(devA)
	assert.Equal(t, profile.ErrPolicyForbidden, errors.Cause(err))
	assert.True(t, profile.IsPreconditionRejected(err))

	f.adapter.SetRemoteUUIDs(devB)
	assert.Equal(t, profile.ErrMissingUUID, errors.Cause(f.s.Connect(devB)))

	assert.Equal(t, profile.ErrRedirected, errors.Cause(f.s.Connect(devC)))

	assert.Equal(t, profile.ErrUnknownDevice, errors.Cause(f.s.Disconnect(devA)))

	f.flush()
	assert.Empty(t, f.s.Devices())
	assert.Empty(t, f.native.Commands())
}

func TestMaxConnections(t *testing.T) {
	f := newFixture(t, profile.OptMaxConnections(2))
	f.connected(devA)
	f.connected(devB)

	err := f.s.Connect(devC)
	assert.Equal(t, profile.ErrMaxConnections, errors.Cause(err))

	// inbound beyond the limit is refused too
	f.state(devC, profile.StateConnected)
	assert.Equal(t, profile.StateDisconnected, f.s.ConnectionState(devC))
	assert.Equal(t, []stack.Op{stack.OpDisconnect}, f.ops(devC))
}

func TestSingleConnectionReplaced(t *testing.T) {
	f := newFixture(t, profile.OptMaxConnections(1))
	f.connected(devA)

	f.state(devB, profile.StateConnected)
	assert.Equal(t, profile.StateConnected, f.s.ConnectionState(devB))
	assert.Equal(t, []stack.Op{stack.OpDisconnect}, f.ops(devA))
	assert.Equal(t, profile.StateDisconnecting, f.s.ConnectionState(devA))
}

func TestInboundRejected(t *testing.T) {
	f := newFixture(t)
	stranger := profile.Addr("00:00:00:00:00:ff")

	f.state(stranger, profile.StateConnecting)
	assert.Equal(t, []stack.Op{stack.OpDisconnect}, f.ops(stranger))
	assert.Empty(t, f.rec.transitions(stranger))
	assert.NotContains(t, f.s.Devices(), stranger)

	f.adapter.SetQuietMode(true)
	f.state(devA, profile.StateConnected)
	assert.Equal(t, profile.StateDisconnected, f.s.ConnectionState(devA))
}

func TestDisconnectedEventForUnknownDeviceDropped(t *testing.T) {
	f := newFixture(t)
	f.state(devA, profile.StateDisconnected)
	f.state(devA, profile.StateDisconnecting)

	assert.Empty(t, f.s.Devices())
	assert.Empty(t, f.rec.transitions(devA))
}

func TestConnectAfterQueuedDisconnected(t *testing.T) {
	f := newFixture(t)
	devD := profile.Addr("00:00:00:00:00:0d")

	release := make(chan struct{})
	require.NoError(t, f.s.post(func() { <-release }))
	f.s.HandleStackEvent(stack.NewConnectionStateEvent(devD, profile.StateDisconnected))
	require.NoError(t, f.s.Connect(devD))
	close(release)
	f.flush()

	assert.Equal(t, []stack.Op{stack.OpConnect}, f.ops(devD))
	assert.Equal(t, profile.StateConnecting, f.s.ConnectionState(devD))
	assert.Equal(t, []profile.Addr{devD}, f.s.Devices())
}

func TestDisconnectAfterQueuedRelease(t *testing.T) {
	f := newFixture(t)
	devD := profile.Addr("00:00:00:00:00:0d")

	require.NoError(t, f.s.Connect(devD))
	f.flush()
	f.state(devD, profile.StateConnected)

	release := make(chan struct{})
	require.NoError(t, f.s.post(func() { <-release }))
	f.s.HandleStackEvent(stack.NewConnectionStateEvent(devD, profile.StateDisconnected))
	require.NoError(t, f.s.Disconnect(devD))
	close(release)
	f.flush()

	assert.Equal(t, []stack.Op{stack.OpConnect}, f.ops(devD))
	assert.Empty(t, f.s.Devices())
}

func TestDisconnectCancelsConnecting(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.Connect(devA))
	f.flush()
	require.NoError(t, f.s.Disconnect(devA))
	f.flush()

	assert.Equal(t, profile.StateDisconnected, f.s.ConnectionState(devA))
	assert.Equal(t, 0, f.s.timers.Len())
}

func TestPolicyChanges(t *testing.T) {
	f := newFixture(t)
	f.connected(devA)

	require.NoError(t, f.s.SetConnectionPolicy(devA, profile.PolicyForbidden))
	f.flush()
	assert.Equal(t, profile.StateDisconnecting, f.s.ConnectionState(devA))
	p, err := f.s.ConnectionPolicy(devA)
	require.NoError(t, err)
	assert.Equal(t, profile.PolicyForbidden, p)

	require.NoError(t, f.s.SetConnectionPolicy(devB, profile.PolicyAllowed))
	f.flush()
	assert.Equal(t, profile.StateConnecting, f.s.ConnectionState(devB))
}

func (f *fixture) pair() {
	f.event(stack.NewDeviceAvailableEvent(devA, 1, 2, 1, profile.CAPContextUUID))
	f.event(stack.NewDeviceAvailableEvent(devB, 1, 2, 2, profile.CAPContextUUID))
}

func TestGroupSizeTriggersOneMirrorPass(t *testing.T) {
	f := newFixture(t, profile.OptRelatedProfiles(profile.ProfileLEAudio))
	require.NoError(t, f.store.SetConnectionPolicy(devB, profile.ProfileLEAudio, profile.PolicyForbidden))
	f.pair()

	f.connected(devB)
	assert.Equal(t, 0, f.s.groups.MirrorPasses())
	f.connected(devA)
	assert.Equal(t, 1, f.s.groups.MirrorPasses())

	p, err := f.s.ConnectionPolicy(devB)
	require.NoError(t, err)
	assert.Equal(t, profile.PolicyForbidden, p)
	p, _ = f.s.ConnectionPolicy(devA)
	assert.Equal(t, profile.PolicyUnknown, p)
	assert.Equal(t, []stack.Op{stack.OpDisconnect}, f.ops(devB))

	assert.Equal(t, []int{1}, f.s.AllGroupIDs(profile.CAPContextUUID))
	assert.Equal(t, []profile.Addr{devA, devB}, f.s.GroupDevicesOrdered(1))
	assert.Equal(t, 2, f.s.DesiredGroupSize(1))
}

func TestSetMemberAvailable(t *testing.T) {
	f := newFixture(t)
	f.pair()

	var direct []member
	var mu sync.Mutex
	f.s.RegisterCallbacks(profile.CAPContextUUID, func(a profile.Addr, id int) {
		mu.Lock()
		defer mu.Unlock()
		direct = append(direct, member{a, id})
	}, nil)

	f.event(stack.NewSetMemberAvailableEvent(devB, 1))
	assert.Empty(t, f.rec.members)

	f.connected(devA)
	assert.Equal(t, []member{{devB, 1}}, f.rec.members)
	mu.Lock()
	assert.Equal(t, []member{{devB, 1}}, direct)
	mu.Unlock()
}

func TestGroupLock(t *testing.T) {
	f := newFixture(t)
	f.pair()

	type result struct {
		status group.Status
		locked bool
	}
	var mu sync.Mutex
	var got []result
	cb := func(_ int, s group.Status, locked bool) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, result{s, locked})
	}

	u, status := f.s.LockGroup(1, cb)
	require.Equal(t, group.StatusSuccess, status)
	assert.True(t, f.s.IsGroupLocked(1))

	_, status = f.s.LockGroup(1, cb)
	assert.Equal(t, group.StatusLockedByOther, status)
	_, status = f.s.LockGroup(9, cb)
	assert.Equal(t, group.StatusInvalidGroupID, status)

	f.event(stack.NewGroupLockChangedEvent(1, stack.LockSuccess, true))
	assert.True(t, f.s.UnlockGroup(u))
	assert.True(t, f.s.IsGroupLocked(1))
	f.event(stack.NewGroupLockChangedEvent(1, stack.LockSuccess, false))
	assert.False(t, f.s.IsGroupLocked(1))

	mu.Lock()
	assert.Equal(t, []result{{group.StatusSuccess, true}, {group.StatusSuccess, false}}, got)
	mu.Unlock()

	var locks []stack.Command
	for _, c := range f.native.Commands() {
		if c.Op == stack.OpSetLock {
			locks = append(locks, c)
		}
	}
	assert.Equal(t, []stack.Command{
		{Op: stack.OpSetLock, GroupID: 1, Lock: true},
		{Op: stack.OpSetLock, GroupID: 1, Lock: false},
	}, locks)
}

func TestGroupEventsIgnoredWithoutGrouping(t *testing.T) {
	f := newFixture(t, profile.OptGrouping(false))
	f.pair()
	assert.Equal(t, -1, f.s.DesiredGroupSize(1))

	_, status := f.s.LockGroup(1, nil)
	assert.Equal(t, group.StatusInvalidGroupID, status)
}

func TestActiveDevice(t *testing.T) {
	f := newFixture(t, profile.OptMaxConnections(3))
	f.pair()

	f.connected(devB)
	assert.Equal(t, devB, f.s.ActiveDevice())
	f.connected(devC)
	f.connected(devA)
	assert.Equal(t, devB, f.s.ActiveDevice())

	// the group mate wins over the lower address
	f.state(devB, profile.StateDisconnected)
	assert.Equal(t, devA, f.s.ActiveDevice())

	f.state(devA, profile.StateDisconnected)
	assert.Equal(t, devC, f.s.ActiveDevice())

	f.state(devC, profile.StateDisconnected)
	assert.Equal(t, profile.Addr(""), f.s.ActiveDevice())

	f.flush()
	assert.Equal(t, []profile.Addr{devB, devA, devC, ""}, f.rec.active)

	assert.Equal(t, profile.ErrNotConnected, errors.Cause(f.s.SetActiveDevice(devA)))
}

type fakeGate struct {
	mu       sync.Mutex
	required bool
	requests int
}

func (g *fakeGate) SuspendRequired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.required
}

func (g *fakeGate) RequestSuspend() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests++
}

func TestVoiceRecognitionWaitsForSuspend(t *testing.T) {
	gate := &fakeGate{required: true}
	f := newFixture(t, profile.OptAudioGate(gate))
	f.connected(devA)

	require.NoError(t, f.s.StartVoiceRecognition(devA))
	f.flush()
	assert.Equal(t, 1, gate.requests)
	assert.NotContains(t, f.ops(devA), stack.OpStartVoiceRecognition)

	f.s.OnAudioSuspended()
	f.flush()
	assert.Contains(t, f.ops(devA), stack.OpStartVoiceRecognition)
	assert.True(t, f.s.timers.Pending(voiceKey(devA)))

	f.event(stack.NewVoiceRecognitionEvent(devA, true))
	assert.False(t, f.s.timers.Pending(voiceKey(devA)))
	addr, active := f.s.VoiceRecognition()
	assert.Equal(t, devA, addr)
	assert.True(t, active)
	assert.Equal(t, []voice{{devA, true}}, f.rec.voiceEvents())

	// leaving Connected ends it
	f.state(devA, profile.StateDisconnected)
	assert.Equal(t, []voice{{devA, true}, {devA, false}}, f.rec.voiceEvents())
}

func TestVoiceRecognitionTimeout(t *testing.T) {
	f := newFixture(t, profile.OptVoiceRecognitionTimeout(50*time.Millisecond))
	f.connected(devA)

	require.NoError(t, f.s.StartVoiceRecognition(devA))
	require.Eventually(t, func() bool {
		return len(f.rec.voiceEvents()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []voice{{devA, false}}, f.rec.voiceEvents())
	assert.Equal(t, []stack.Op{stack.OpStartVoiceRecognition, stack.OpStopVoiceRecognition}, f.ops(devA))

	assert.Equal(t, profile.ErrNotConnected, errors.Cause(f.s.StartVoiceRecognition(devB)))
}

func TestVoiceRecognitionEventsFromOtherDevices(t *testing.T) {
	f := newFixture(t, profile.OptMaxConnections(3))
	f.connected(devA)
	f.connected(devB)

	require.NoError(t, f.s.StartVoiceRecognition(devA))
	f.flush()
	require.True(t, f.s.timers.Pending(voiceKey(devA)))

	f.event(stack.NewVoiceRecognitionEvent(devB, true))
	f.event(stack.NewVoiceRecognitionEvent(devC, true))
	addr, active := f.s.VoiceRecognition()
	assert.Equal(t, devA, addr)
	assert.False(t, active)
	assert.True(t, f.s.timers.Pending(voiceKey(devA)))
	assert.Empty(t, f.rec.voiceEvents())

	f.event(stack.NewVoiceRecognitionEvent(devA, true))
	addr, active = f.s.VoiceRecognition()
	assert.Equal(t, devA, addr)
	assert.True(t, active)
	assert.Equal(t, []voice{{devA, true}}, f.rec.voiceEvents())
}

func TestUnbondReleasesMachine(t *testing.T) {
	f := newFixture(t)
	f.connected(devA)
	f.state(devA, profile.StateDisconnected)
	assert.Contains(t, f.s.Devices(), devA)

	f.adapter.SetBondState(devA, profile.BondNone)
	f.s.OnBondStateChanged(devA, profile.BondNone)
	f.flush()
	assert.NotContains(t, f.s.Devices(), devA)
}

func TestStopSequence(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.Connect(devA))
	f.flush()
	require.Equal(t, 1, f.s.timers.Len())

	f.s.Stop()
	assert.False(t, f.s.Running())
	assert.Equal(t, 0, f.s.timers.Len())
	assert.Empty(t, f.s.Devices())
	assert.Error(t, f.native.Inject(stack.NewConnectionStateEvent(devA, profile.StateConnected)))

	assert.Equal(t, profile.ErrNotRunning, errors.Cause(f.s.Connect(devA)))
	assert.Equal(t, profile.ErrNotRunning, errors.Cause(f.s.SetActiveDevice("")))
	f.s.HandleStackEvent(stack.NewConnectionStateEvent(devA, profile.StateConnected))
	assert.Empty(t, f.s.Devices())

	f.s.Stop()
	assert.Equal(t, ErrAlreadyStarted, f.s.Start())
}

func TestHolder(t *testing.T) {
	var h Holder
	_, ok := h.Get()
	assert.False(t, ok)

	s, err := New(profile.ProfileCSIP, stack.NewLoopback(), nil)
	require.NoError(t, err)
	require.NoError(t, h.Init(s))
	defer h.Teardown()

	got, ok := h.Get()
	require.True(t, ok)
	assert.Same(t, s, got)

	other, err := New(profile.ProfileCSIP, nil, nil)
	require.NoError(t, err)
	assert.Error(t, h.Init(other))

	h.Teardown()
	_, ok = h.Get()
	assert.False(t, ok)
	assert.False(t, s.Running())
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(profile.ProfileVCP, nil, nil, profile.OptMaxConnections(0))
	assert.Error(t, err)
	_, err = New(profile.ProfileVCP, nil, nil, profile.OptConnectTimeout(0))
	assert.Error(t, err)
	_, err = New(profile.ProfileVCP, nil, nil, profile.OptAudioGate("speaker"))
	assert.Error(t, err)
}

func TestNativeUnavailable(t *testing.T) {
	s, err := New(profile.ProfileVCP, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, profile.ErrNativeUnavailable, errors.Cause(s.Connect(devA)))
	_, status := s.LockGroup(1, nil)
	assert.Equal(t, group.StatusInvalidGroupID, status)
}

type closeStore struct {
	*policy.MemoryStore
	closed int
}

func (c *closeStore) Close() error {
	c.closed++
	return c.MemoryStore.Close()
}

func TestStartFailureRollsBack(t *testing.T) {
	native := stack.NewLoopback()
	require.NoError(t, native.Init(func(stack.Event) {}))
	defer native.Cleanup()
	store := &closeStore{MemoryStore: policy.NewMemoryStore()}

	s, err := New(profile.ProfileVCP, native, store)
	require.NoError(t, err)
	require.Error(t, s.Start())

	assert.False(t, s.Running())
	assert.Equal(t, 1, store.closed)
	assert.Equal(t, profile.ErrNotRunning, errors.Cause(s.Connect(devA)))
	select {
	case <-s.w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker still running after a failed start")
	}

	s.Stop()
	assert.Equal(t, 1, store.closed)
	assert.Equal(t, ErrAlreadyStarted, s.Start())
}
