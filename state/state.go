// Package state keeps a record of the last content synced for every file so
// that restore can tell local edits apart from stale copies.
package state

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const (
	bucketFiles = "files" // key: repo path -> Record JSON
	bucketMeta  = "meta"  // key: name -> string

	MetaLastBackup  = "last_backup"
	MetaLastRestore = "last_restore"
	MetaLastCommit  = "last_commit"
)

// ErrLocked is returned when another syd process holds the state file.
var ErrLocked = errors.New("state database is locked by another process")

type Record struct {
	Source   string      `json:"source"`
	Hash     string      `json:"hash"`
	Size     int64       `json:"size"`
	Mode     fs.FileMode `json:"mode"`
	BackedUp time.Time   `json:"backed_up,omitzero"`
	Restored time.Time   `json:"restored,omitzero"`
	Commit   string      `json:"commit,omitempty"`
}

type Store struct {
	db *bbolt.DB
}

// DefaultPath returns $XDG_STATE_HOME/syd/state.db, falling back to
// ~/.local/state.
func DefaultPath() string {
	if dir, ok := os.LookupEnv("XDG_STATE_HOME"); ok && dir != "" {
		return filepath.Join(dir, "syd", "state.db")
	}
	if dir, ok := os.LookupEnv("HOME"); ok {
		return filepath.Join(dir, ".local", "state", "syd", "state.db")
	}
	return "state.db"
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, errors.Wrapf(ErrLocked, "%s", path)
	} else if err != nil {
		return nil, errors.Wrap(err, "could not open state database")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketFiles, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the record for repoPath. The boolean is false when nothing has
// been recorded.
func (s *Store) Get(repoPath string) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(bucketFiles)).Get([]byte(repoPath))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	return rec, found, err
}

func (s *Store) Put(repoPath string, rec Record) error {
	return s.PutAll(map[string]Record{repoPath: rec})
}

// PutAll writes every record in a single transaction.
func (s *Store) PutAll(records map[string]Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		files := tx.Bucket([]byte(bucketFiles))
		for key, rec := range records {
			data, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			if err = files.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// All returns every record keyed by repository path.
func (s *Store) All() (map[string]Record, error) {
	all := make(map[string]Record)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketFiles)).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "corrupt record for %s", k)
			}
			all[string(k)] = rec
			return nil
		})
	})
	return all, err
}

func (s *Store) Delete(repoPaths ...string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		files := tx.Bucket([]byte(bucketFiles))
		for _, p := range repoPaths {
			if err := files.Delete([]byte(p)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SetMeta(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(key), []byte(value))
	})
}

// Meta returns the value stored under key or an empty string.
func (s *Store) Meta(key string) (string, error) {
	var v string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v = string(tx.Bucket([]byte(bucketMeta)).Get([]byte(key)))
		return nil
	})
	return v, err
}

// Stamp records t under key in RFC 3339 format.
func (s *Store) Stamp(key string, t time.Time) error {
	return s.SetMeta(key, t.UTC().Format(time.RFC3339))
}

// Time parses a value written by Stamp. The zero time is returned when key
// was never set.
func (s *Store) Time(key string) (time.Time, error) {
	v, err := s.Meta(key)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}
