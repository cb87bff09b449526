package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/pkg/errors"
)

func open(t *testing.T) (*Store, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "syd", "state.db")
	s, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, p
}

func TestStore(t *testing.T) {
	is := is.New(t)
	s, _ := open(t)
	_, ok, err := s.Get(".bashrc")
	is.NoErr(err)
	is.True(!ok)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		Source:   "/home/me/.bashrc",
		Hash:     "3b18e512dba79e4c8300dd08aeb37f8e728b8dad",
		Size:     12,
		Mode:     0644,
		BackedUp: now,
		Commit:   "deadbeef",
	}
	is.NoErr(s.Put(".bashrc", rec))
	got, ok, err := s.Get(".bashrc")
	is.NoErr(err)
	is.True(ok)
	is.True(got.BackedUp.Equal(now))
	got.BackedUp = now
	is.Equal(got, rec)

	is.NoErr(s.PutAll(map[string]Record{
		".vimrc":          {Source: "/home/me/.vimrc", Hash: "a"},
		"_root/etc/hosts": {Source: "/etc/hosts", Hash: "b"},
	}))
	all, err := s.All()
	is.NoErr(err)
	is.Equal(len(all), 3)
	is.Equal(all["_root/etc/hosts"].Source, "/etc/hosts")

	is.NoErr(s.Delete(".vimrc", "not-there"))
	all, err = s.All()
	is.NoErr(err)
	is.Equal(len(all), 2)
}

func TestStoreMeta(t *testing.T) {
	is := is.New(t)
	s, _ := open(t)
	v, err := s.Meta(MetaLastCommit)
	is.NoErr(err)
	is.Equal(v, "")
	is.NoErr(s.SetMeta(MetaLastCommit, "abc123"))
	v, err = s.Meta(MetaLastCommit)
	is.NoErr(err)
	is.Equal(v, "abc123")

	ts, err := s.Time(MetaLastBackup)
	is.NoErr(err)
	is.True(ts.IsZero())
	now := time.Now().Truncate(time.Second)
	is.NoErr(s.Stamp(MetaLastBackup, now))
	ts, err = s.Time(MetaLastBackup)
	is.NoErr(err)
	is.True(ts.Equal(now))
}

func TestOpenLocked(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the lock timeout")
	}
	is := is.New(t)
	_, p := open(t)
	_, err := Open(p)
	is.True(errors.Is(err, ErrLocked))
}

func TestOpenPersists(t *testing.T) {
	is := is.New(t)
	p := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(p)
	is.NoErr(err)
	is.NoErr(s.Put("a", Record{Hash: "1"}))
	is.NoErr(s.Close())
	s, err = Open(p)
	is.NoErr(err)
	defer s.Close()
	rec, ok, err := s.Get("a")
	is.NoErr(err)
	is.True(ok)
	is.Equal(rec.Hash, "1")
}
