package group

import (
	"github.com/google/uuid"
	"github.com/rigado/profile/stack"
	"github.com/rigado/profile/worker"
)

func unlockKey(groupID int) worker.Key {
	return worker.Key{Kind: worker.KindUnlockConfirm, Group: groupID}
}

// Lock requests a lock on groupID for cb. On StatusSuccess the returned uuid
// identifies the token; the outcome reported by the peer reaches cb.
func (c *Coordinator) Lock(groupID int, cb LockCallback) (uuid.UUID, Status) {
	c.mu.Lock()
	if _, ok := c.groups[groupID]; !ok {
		c.mu.Unlock()
		return uuid.Nil, StatusInvalidGroupID
	}
	if _, ok := c.locks[groupID]; ok {
		c.mu.Unlock()
		return uuid.Nil, StatusLockedByOther
	}
	tok := &LockToken{GroupID: groupID, UUID: uuid.New(), Callback: cb}
	c.locks[groupID] = tok
	c.mu.Unlock()

	if err := c.cfg.Native.SetLock(groupID, true); err != nil {
		c.log.Errorf("group %d: lock rejected: %v", groupID, err)
		c.mu.Lock()
		if c.locks[groupID] == tok {
			delete(c.locks, groupID)
		}
		c.mu.Unlock()
		return uuid.Nil, StatusUnknown
	}
	c.log.Infof("group %d: lock %v requested", groupID, tok.UUID)
	return tok.UUID, StatusSuccess
}

// Unlock asks the peer to release the lock identified by u. The token stays
// until the peer confirms or the confirmation timer expires. It reports
// whether u named an outstanding lock.
func (c *Coordinator) Unlock(u uuid.UUID) bool {
	c.mu.Lock()
	var tok *LockToken
	for _, t := range c.locks {
		if t.UUID == u {
			tok = t
			break
		}
	}
	c.mu.Unlock()
	if tok == nil {
		c.log.Warnf("unlock: no lock %v", u)
		return false
	}

	if err := c.cfg.Native.SetLock(tok.GroupID, false); err != nil {
		c.log.Errorf("group %d: unlock rejected: %v", tok.GroupID, err)
	}
	if c.cfg.Timers != nil {
		err := c.cfg.Timers.Start(unlockKey(tok.GroupID), c.cfg.UnlockTimeout, func() {
			c.expireUnlock(tok)
		})
		if err != nil {
			c.log.Errorf("group %d: can't arm unlock timer: %v", tok.GroupID, err)
		}
	}
	return true
}

func (c *Coordinator) expireUnlock(tok *LockToken) {
	c.mu.Lock()
	if c.locks[tok.GroupID] != tok {
		c.mu.Unlock()
		return
	}
	delete(c.locks, tok.GroupID)
	c.mu.Unlock()

	c.log.Warnf("group %d: unlock of %v never confirmed, dropping", tok.GroupID, tok.UUID)
	c.callback(tok, StatusSuccess, false)
}

// OnLockChanged applies a lock state reported by the peer.
func (c *Coordinator) OnLockChanged(groupID int, status stack.LockStatus, locked bool) {
	c.mu.Lock()
	tok, ok := c.locks[groupID]
	if ok && !locked {
		delete(c.locks, groupID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debugf("group %d: lock changed (%v, %v) with no owner", groupID, status, locked)
		return
	}
	if !locked && c.cfg.Timers != nil {
		c.cfg.Timers.Cancel(unlockKey(groupID))
	}
	c.callback(tok, statusFromNative(status), locked)
}

func (c *Coordinator) callback(tok *LockToken, s Status, locked bool) {
	if tok.Callback == nil {
		return
	}
	cb, id := tok.Callback, tok.GroupID
	if c.cfg.Post != nil {
		c.cfg.Post(func() { cb(id, s, locked) })
		return
	}
	cb(id, s, locked)
}

// IsLocked reports whether a lock token exists for groupID.
func (c *Coordinator) IsLocked(groupID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.locks[groupID]
	return ok
}

// LockOwner returns the token uuid of the lock on groupID.
func (c *Coordinator) LockOwner(groupID int) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.locks[groupID]; ok {
		return t.UUID, true
	}
	return uuid.Nil, false
}
