package group

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rigado/profile"
	"github.com/rigado/profile/worker"
)

// Native is the part of the native stack the coordinator drives.
type Native interface {
	SetLock(groupID int, lock bool) error
}

// PolicyReader reads persisted connection policies of other profiles.
type PolicyReader interface {
	ConnectionPolicy(addr profile.Addr, id profile.ProfileID) (profile.ConnectionPolicy, error)
}

// Timers arms keyed timeouts. *worker.Scheduler satisfies it.
type Timers interface {
	Start(k worker.Key, d time.Duration, fn func()) error
	Cancel(k worker.Key) bool
}

// Config carries the collaborators of a Coordinator.
type Config struct {
	Native Native
	Timers Timers

	// Policies and Related drive the mirror policy pass: a member whose
	// policy for any related profile is forbidden gets Forbid called.
	Policies PolicyReader
	Related  []profile.ProfileID
	Forbid   func(addr profile.Addr)

	// Announce is the ordered broadcast of a set member becoming available.
	Announce func(addr profile.Addr, groupID int)

	// Post runs lock owner callbacks. Callbacks run inline when nil.
	Post Executor

	UnlockTimeout time.Duration
}

type record struct {
	id          int
	typ         uuid.UUID
	desiredSize int
	connected   map[profile.Addr]struct{}
	rank        map[profile.Addr]int

	// full is set while every desired member is connected.
	full bool
}

// Coordinator tracks coordinated set membership, ranks and locks.
type Coordinator struct {
	cfg Config
	log profile.Logger

	mu             sync.Mutex
	groups         map[int]*record
	groupsByDevice map[profile.Addr]map[int]int
	found          map[profile.Addr]int
	locks          map[int]*LockToken
	regs           []registration
	regSeq         int
	passes         int
}

func New(cfg Config) *Coordinator {
	if cfg.UnlockTimeout <= 0 {
		cfg.UnlockTimeout = profile.DefaultUnlockTimeout
	}
	return &Coordinator{
		cfg:            cfg,
		log:            profile.GetLogger().ChildLogger(map[string]interface{}{"component": "group"}),
		groups:         make(map[int]*record),
		groupsByDevice: make(map[profile.Addr]map[int]int),
		found:          make(map[profile.Addr]int),
		locks:          make(map[int]*LockToken),
	}
}

// RecordDeviceAvailable upserts group metadata and the rank of addr. The
// first call for a group sets its type and desired size.
func (c *Coordinator) RecordDeviceAvailable(addr profile.Addr, groupID, rank int, typ uuid.UUID, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[groupID]
	if !ok {
		g = &record{
			id:          groupID,
			typ:         typ,
			desiredSize: size,
			connected:   make(map[profile.Addr]struct{}),
			rank:        make(map[profile.Addr]int),
		}
		c.groups[groupID] = g
		c.log.Infof("group %d: type %v, size %d", groupID, typ, size)
	} else if size != g.desiredSize || typ != g.typ {
		c.log.Warnf("group %d: ignoring size %d type %v from %v, have %d %v",
			groupID, size, typ, addr, g.desiredSize, g.typ)
	}
	g.rank[addr] = rank

	m, ok := c.groupsByDevice[addr]
	if !ok {
		m = make(map[int]int)
		c.groupsByDevice[addr] = m
	}
	m[groupID] = rank
}

// RecordSetMemberFound notes a discovered member. The notification goes out
// right away when the group has connected members, else on the next
// OnDeviceConnected for the group.
func (c *Coordinator) RecordSetMemberFound(addr profile.Addr, groupID int) {
	c.mu.Lock()
	g, ok := c.groups[groupID]
	if !ok || len(g.connected) == 0 {
		c.found[addr] = groupID
		c.mu.Unlock()
		c.log.Debugf("group %d: deferring member %v", groupID, addr)
		return
	}
	delete(c.found, addr)
	n := c.notificationsLocked(groupID, []profile.Addr{addr})
	c.mu.Unlock()

	c.deliver(n)
}

// OnDeviceConnected adds addr to the connected members of groupID.
func (c *Coordinator) OnDeviceConnected(addr profile.Addr, groupID int) {
	c.mu.Lock()
	g, ok := c.groups[groupID]
	if !ok {
		c.mu.Unlock()
		c.log.Warnf("group %d: connected %v to unknown group", groupID, addr)
		return
	}
	if _, ok := g.rank[addr]; !ok {
		c.mu.Unlock()
		c.log.Warnf("group %d: %v is not a member", groupID, addr)
		return
	}
	g.connected[addr] = struct{}{}

	var pending []profile.Addr
	for a, id := range c.found {
		if id == groupID && a != addr {
			pending = append(pending, a)
			delete(c.found, a)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })
	n := c.notificationsLocked(groupID, pending)

	var members []profile.Addr
	if !g.full && g.desiredSize > 0 && len(g.connected) >= g.desiredSize {
		g.full = true
		c.passes++
		members = orderedLocked(g)
	}
	c.mu.Unlock()

	c.deliver(n)
	if members != nil {
		c.mirrorPolicy(groupID, members)
	}
}

// OnDeviceDisconnected removes addr from the connected members of groupID.
func (c *Coordinator) OnDeviceDisconnected(addr profile.Addr, groupID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	if !ok {
		return
	}
	delete(g.connected, addr)
	if len(g.connected) < g.desiredSize {
		g.full = false
	}
}

// RemoveDevice forgets addr in every group, for example once it is unbonded.
func (c *Coordinator) RemoveDevice(addr profile.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.groupsByDevice[addr] {
		if g, ok := c.groups[id]; ok {
			delete(g.rank, addr)
			delete(g.connected, addr)
			if len(g.connected) < g.desiredSize {
				g.full = false
			}
		}
	}
	delete(c.groupsByDevice, addr)
	delete(c.found, addr)
}

func (c *Coordinator) mirrorPolicy(groupID int, members []profile.Addr) {
	c.log.Infof("group %d: all %d members connected", groupID, len(members))
	if c.cfg.Policies == nil || c.cfg.Forbid == nil {
		return
	}
	for _, a := range members {
		for _, id := range c.cfg.Related {
			p, err := c.cfg.Policies.ConnectionPolicy(a, id)
			if err != nil {
				c.log.Errorf("group %d: can't read %v policy of %v: %v", groupID, id, a, err)
				continue
			}
			if p == profile.PolicyForbidden {
				c.log.Infof("group %d: %v forbids %v, mirroring", groupID, a, id)
				c.cfg.Forbid(a)
				break
			}
		}
	}
}

// MirrorPasses returns how many mirror policy passes ran.
func (c *Coordinator) MirrorPasses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passes
}

// RegisterCallbacks subscribes cb to set member notifications of groups whose
// type is context. cb runs through exec, or inline when exec is nil. The
// returned func removes the registration.
func (c *Coordinator) RegisterCallbacks(context uuid.UUID, cb MemberCallback, exec Executor) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regSeq++
	id := c.regSeq
	c.regs = append(c.regs, registration{id: id, context: context, cb: cb, exec: exec})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, r := range c.regs {
			if r.id == id {
				c.regs = append(c.regs[:i], c.regs[i+1:]...)
				return
			}
		}
	}
}

type notification struct {
	addr    profile.Addr
	groupID int
	regs    []registration
}

func (c *Coordinator) notificationsLocked(groupID int, addrs []profile.Addr) []notification {
	if len(addrs) == 0 {
		return nil
	}
	g := c.groups[groupID]
	var regs []registration
	for _, r := range c.regs {
		if g != nil && r.context == g.typ {
			regs = append(regs, r)
		}
	}
	nn := make([]notification, 0, len(addrs))
	for _, a := range addrs {
		nn = append(nn, notification{addr: a, groupID: groupID, regs: regs})
	}
	return nn
}

func (c *Coordinator) deliver(nn []notification) {
	for _, n := range nn {
		c.log.Infof("group %d: set member %v available", n.groupID, n.addr)
		if c.cfg.Announce != nil {
			c.cfg.Announce(n.addr, n.groupID)
		}
		for _, r := range n.regs {
			a, id, cb := n.addr, n.groupID, r.cb
			if r.exec != nil {
				r.exec(func() { cb(a, id) })
			} else {
				cb(a, id)
			}
		}
	}
}

// GroupDevicesOrdered returns the members of groupID sorted by rank.
func (c *Coordinator) GroupDevicesOrdered(groupID int) []profile.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	if !ok {
		return nil
	}
	return orderedLocked(g)
}

func orderedLocked(g *record) []profile.Addr {
	out := make([]profile.Addr, 0, len(g.rank))
	for a := range g.rank {
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := g.rank[out[i]], g.rank[out[j]]
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// AllGroupIDs returns the ids of every group of type typ in ascending order.
func (c *Coordinator) AllGroupIDs(typ uuid.UUID) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int
	for id, g := range c.groups {
		if g.typ == typ {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// DesiredGroupSize returns the size announced for groupID, or -1.
func (c *Coordinator) DesiredGroupSize(groupID int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.groups[groupID]; ok {
		return g.desiredSize
	}
	return -1
}

// GroupIDs returns the groups addr belongs to in ascending order.
func (c *Coordinator) GroupIDs(addr profile.Addr) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int
	for id := range c.groupsByDevice[addr] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// GroupID returns the group of type typ addr belongs to, or -1.
func (c *Coordinator) GroupID(addr profile.Addr, typ uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.groupsByDevice[addr] {
		if g, ok := c.groups[id]; ok && g.typ == typ {
			return id
		}
	}
	return -1
}

// ConnectedMembers returns the connected members of groupID sorted by rank.
func (c *Coordinator) ConnectedMembers(groupID int) []profile.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	if !ok {
		return nil
	}
	var out []profile.Addr
	for _, a := range orderedLocked(g) {
		if _, ok := g.connected[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Reset forgets every group, deferred member and lock. Registrations stay.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	ids := make([]int, 0, len(c.locks))
	for id := range c.locks {
		ids = append(ids, id)
	}
	c.groups = make(map[int]*record)
	c.groupsByDevice = make(map[profile.Addr]map[int]int)
	c.found = make(map[profile.Addr]int)
	c.locks = make(map[int]*LockToken)
	c.mu.Unlock()

	if c.cfg.Timers != nil {
		for _, id := range ids {
			c.cfg.Timers.Cancel(unlockKey(id))
		}
	}
}
