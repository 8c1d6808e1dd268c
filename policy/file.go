package policy

import (
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/profile"
)

func errUnknownDriver(d string) error {
	return errors.Errorf("unknown store driver %q", d)
}

// FileStore keeps every entry in one JSON file keyed by device address. The
// file is read and rewritten on each access.
type FileStore struct {
	filename string
	lock     sync.RWMutex
}

func NewFileStore(filename string) *FileStore {
	return &FileStore{filename: filename}
}

func (fs *FileStore) ConnectionPolicy(addr profile.Addr, id profile.ProfileID) (profile.ConnectionPolicy, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	entries, err := fs.loadExisting()
	if err != nil {
		return profile.PolicyUnknown, err
	}
	e, ok := entries[addr.String()]
	if !ok {
		return profile.PolicyUnknown, nil
	}
	p, ok := e.Policies[id.String()]
	if !ok {
		return profile.PolicyUnknown, nil
	}
	return p, nil
}

func (fs *FileStore) SetConnectionPolicy(addr profile.Addr, id profile.ProfileID, p profile.ConnectionPolicy) error {
	return fs.update(addr, func(e *Entry) {
		e.Policies[id.String()] = p
	})
}

func (fs *FileStore) RecordConnectionState(addr profile.Addr, id profile.ProfileID, s profile.State) error {
	return fs.update(addr, func(e *Entry) {
		e.States[id.String()] = s
	})
}

func (fs *FileStore) LastConnectionState(addr profile.Addr, id profile.ProfileID) (profile.State, bool, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	entries, err := fs.loadExisting()
	if err != nil {
		return profile.StateDisconnected, false, err
	}
	e, ok := entries[addr.String()]
	if !ok {
		return profile.StateDisconnected, false, nil
	}
	s, ok := e.States[id.String()]
	return s, ok, nil
}

// Clear removes the backing file.
func (fs *FileStore) Clear() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	err := os.Remove(fs.filename)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) update(addr profile.Addr, fn func(*Entry)) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	entries, err := fs.loadExisting()
	if err != nil {
		return err
	}

	e, ok := entries[addr.String()]
	if !ok {
		e = newEntry()
		entries[addr.String()] = e
	}
	if e.Policies == nil {
		e.Policies = make(map[string]profile.ConnectionPolicy)
	}
	if e.States == nil {
		e.States = make(map[string]profile.State)
	}
	fn(e)

	return fs.store(entries)
}

func (fs *FileStore) loadExisting() (map[string]*Entry, error) {
	_, err := os.Stat(fs.filename)
	if os.IsNotExist(err) {
		return map[string]*Entry{}, nil
	}

	in, err := ioutil.ReadFile(fs.filename)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", fs.filename)
	}

	var entries map[string]*Entry
	err = jsoniter.Unmarshal(in, &entries)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", fs.filename)
	}
	if entries == nil {
		entries = map[string]*Entry{}
	}

	return entries, nil
}

func (fs *FileStore) store(entries map[string]*Entry) error {
	out, err := jsoniter.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	return ioutil.WriteFile(fs.filename, out, 0644)
}
