package policy

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/profile"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps policies and states in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS connection_policy (
	device TEXT NOT NULL,
	profile TEXT NOT NULL,
	policy INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (device, profile)
)`, `
CREATE TABLE IF NOT EXISTS connection_state (
	device TEXT NOT NULL,
	profile TEXT NOT NULL,
	state INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (device, profile)
)`,
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create store directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set journal mode")
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}
	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "initialize schema")
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ConnectionPolicy(addr profile.Addr, id profile.ProfileID) (profile.ConnectionPolicy, error) {
	var p int
	err := s.db.QueryRow(`SELECT policy FROM connection_policy WHERE device = ? AND profile = ?`,
		addr.String(), id.String()).Scan(&p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profile.PolicyUnknown, nil
		}
		return profile.PolicyUnknown, errors.Wrapf(err, "query policy of %v", addr)
	}
	return profile.ConnectionPolicy(p), nil
}

func (s *SQLiteStore) SetConnectionPolicy(addr profile.Addr, id profile.ProfileID, p profile.ConnectionPolicy) error {
	_, err := s.db.Exec(
		`INSERT INTO connection_policy (device, profile, policy, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(device, profile) DO UPDATE SET
		 policy = excluded.policy,
		 updated_at = excluded.updated_at`,
		addr.String(), id.String(), int(p), now(),
	)
	if err != nil {
		return errors.Wrapf(err, "save policy of %v", addr)
	}
	return nil
}

func (s *SQLiteStore) RecordConnectionState(addr profile.Addr, id profile.ProfileID, st profile.State) error {
	_, err := s.db.Exec(
		`INSERT INTO connection_state (device, profile, state, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(device, profile) DO UPDATE SET
		 state = excluded.state,
		 updated_at = excluded.updated_at`,
		addr.String(), id.String(), int(st), now(),
	)
	if err != nil {
		return errors.Wrapf(err, "save state of %v", addr)
	}
	return nil
}

func (s *SQLiteStore) LastConnectionState(addr profile.Addr, id profile.ProfileID) (profile.State, bool, error) {
	var st int
	err := s.db.QueryRow(`SELECT state FROM connection_state WHERE device = ? AND profile = ?`,
		addr.String(), id.String()).Scan(&st)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profile.StateDisconnected, false, nil
		}
		return profile.StateDisconnected, false, errors.Wrapf(err, "query state of %v", addr)
	}
	return profile.State(st), true, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
