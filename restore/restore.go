// Package restore writes the files in the backup repository back to their
// original locations.
package restore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harrybrwn/syd/config"
	"github.com/harrybrwn/syd/fsutil"
	"github.com/harrybrwn/syd/git"
	"github.com/harrybrwn/syd/hooks"
	"github.com/harrybrwn/syd/registry"
	"github.com/harrybrwn/syd/remote"
	"github.com/harrybrwn/syd/snapshot"
	"github.com/harrybrwn/syd/state"
)

// BackupSuffix is appended to local files that are moved aside by the backup
// conflict policy.
const BackupSuffix = ".syd~"

var (
	ErrNoRepository = errors.New("backup repository does not exist and no remote is configured")
	ErrNoMatch      = errors.New("no backed up files match")
	ErrVerify       = errors.New("restore verification failed")
)

type ProgressFunc func(done, total int, repoPath string)

type Engine struct {
	Git      *git.Git
	Registry *registry.Registry
	Remote   *remote.Worker
	State    *state.Store // optional
	Hooks    *hooks.Runner
	Log      *zap.Logger
	Progress ProgressFunc
	Now      func() time.Time
}

type Options struct {
	// Offline skips fetching from the remote.
	Offline bool
	// All restores every file in the repository, not only the tracked ones.
	All bool
	// Only narrows the restore to these repository or filesystem paths.
	Only       []string
	DryRun     bool
	OnConflict config.ConflictPolicy

	PreHooks  []string
	PostHooks []string
}

type Result struct {
	Restored  []string
	Unchanged []string
	Conflicts []string
	BackedUp  []string
	// SavedAs maps each backed up repository path to the file its local
	// version was moved to.
	SavedAs map[string]string
	Skipped []string
	Pulled    bool
	Commit    string
}

type action uint8

const (
	actUnchanged action = iota
	actWrite
	actConflict
	// the destination is a directory
	actBlocked
)

func (e *Engine) Restore(ctx context.Context, opts Options) (*Result, error) {
	log := e.logger()
	if opts.OnConflict == "" {
		opts.OnConflict = config.ConflictSkip
	}
	if !opts.OnConflict.Valid() {
		return nil, errors.Errorf("invalid conflict policy %q", opts.OnConflict)
	}
	if !opts.DryRun && e.Hooks != nil {
		if err := e.Hooks.Run(ctx, hooks.PreRestore, opts.PreHooks); err != nil {
			return nil, err
		}
	}
	res := &Result{}
	if err := e.update(ctx, opts, res); err != nil {
		return nil, err
	}
	files, err := e.Git.Files()
	if err != nil {
		return nil, errors.Wrap(err, "could not list repository files")
	}
	if res.Commit, err = e.Git.HeadCommit(); err != nil {
		return nil, err
	}
	files, err = e.filter(files, opts, res)
	if err != nil {
		return nil, err
	}

	now := e.now()
	records := make(map[string]state.Record)
	for i, obj := range files {
		src, err := e.Registry.SourcePath(obj.Name)
		if errors.Is(err, registry.ErrBadPath) {
			log.Warn("repository path has no destination", zap.String("path", obj.Name))
			res.Skipped = append(res.Skipped, obj.Name)
			continue
		} else if err != nil {
			return nil, err
		}
		dest := resolve(src)
		act, err := e.classify(obj, dest)
		if err != nil {
			return nil, err
		}
		switch act {
		case actUnchanged:
			res.Unchanged = append(res.Unchanged, obj.Name)
		case actBlocked:
			log.Warn("destination is a directory", zap.String("path", dest))
			res.Conflicts = append(res.Conflicts, obj.Name)
			continue
		case actConflict:
			switch opts.OnConflict {
			case config.ConflictSkip:
				log.Warn("skipping locally modified file", zap.String("path", src))
				res.Conflicts = append(res.Conflicts, obj.Name)
				continue
			case config.ConflictBackup:
				saved, err := backupName(dest)
				if err != nil {
					return nil, err
				}
				if !opts.DryRun {
					if err = os.Rename(dest, saved); err != nil {
						return nil, errors.Wrapf(err, "could not back up %s", dest)
					}
				}
				res.BackedUp = append(res.BackedUp, obj.Name)
				if res.SavedAs == nil {
					res.SavedAs = make(map[string]string)
				}
				res.SavedAs[obj.Name] = saved
			}
			fallthrough
		case actWrite:
			if !opts.DryRun {
				if err = e.write(obj, dest); err != nil {
					return nil, err
				}
			}
			res.Restored = append(res.Restored, obj.Name)
		}
		rec, err := e.stored(obj.Name)
		if err != nil {
			return nil, err
		}
		rec.Source = src
		rec.Hash = obj.Hash
		rec.Size = obj.Size
		rec.Mode = obj.FileMode()
		rec.Restored = now
		rec.Commit = res.Commit
		records[obj.Name] = rec
		if e.Progress != nil {
			e.Progress(i+1, len(files), obj.Name)
		}
	}
	if opts.DryRun {
		return res, nil
	}
	if err = e.record(records, now); err != nil {
		return res, err
	}
	if e.Hooks != nil {
		if err = e.Hooks.Run(ctx, hooks.PostRestore, opts.PostHooks); err != nil {
			return res, err
		}
	}
	return res, nil
}

// update clones the repository when it is missing or fast-forwards it to the
// remote branch.
func (e *Engine) update(ctx context.Context, opts Options, res *Result) error {
	online := e.Remote.HasRemote() && !opts.Offline
	if !e.Git.Exists() {
		if !online {
			return ErrNoRepository
		}
		err := e.Remote.Clone(ctx)
		if errors.Is(err, remote.ErrEmptyRemote) {
			return errors.Wrap(err, "nothing to restore")
		} else if err != nil {
			return err
		}
		res.Pulled = true
		return nil
	}
	if !online {
		return nil
	}
	pulled, err := e.Remote.Pull(ctx, e.Git)
	if err != nil {
		return errors.Wrap(err, "could not update from remote")
	}
	res.Pulled = pulled
	return nil
}

func (e *Engine) filter(files []*git.Object, opts Options, res *Result) ([]*git.Object, error) {
	only, err := e.only(opts.Only)
	if err != nil {
		return nil, err
	}
	matched := make([]bool, len(only))
	kept := files[:0]
	for _, obj := range files {
		if obj.Type != git.ObjBlob || snapshot.Protected(obj.Name) {
			continue
		}
		if !opts.All && !e.Registry.Owns(obj.Name) {
			res.Skipped = append(res.Skipped, obj.Name)
			continue
		}
		if len(only) > 0 {
			hit := false
			for i, o := range only {
				if obj.Name == o || strings.HasPrefix(obj.Name, o+"/") || o == "" {
					matched[i] = true
					hit = true
				}
			}
			if !hit {
				continue
			}
		}
		kept = append(kept, obj)
	}
	for i, ok := range matched {
		if !ok {
			return nil, errors.Wrapf(ErrNoMatch, "%q", opts.Only[i])
		}
	}
	return kept, nil
}

// only converts restore arguments into repository paths. Absolute and "~"
// paths are mapped, anything else is taken as a repository path.
func (e *Engine) only(args []string) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		switch {
		case a == "~" || strings.HasPrefix(a, "~/"):
			a = filepath.Join(e.Registry.Home(), a[1:])
			fallthrough
		case filepath.IsAbs(a):
			p, err := e.Registry.RepoPath(a)
			if err != nil {
				return nil, err
			}
			out[i] = p
		default:
			out[i] = strings.TrimSuffix(path.Clean(filepath.ToSlash(a)), "/")
			if out[i] == "." {
				out[i] = ""
			}
		}
	}
	return out, nil
}

func (e *Engine) classify(obj *git.Object, dest string) (action, error) {
	info, err := os.Stat(dest)
	if os.IsNotExist(err) {
		return actWrite, nil
	} else if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return actBlocked, nil
	}
	hash, err := git.HashFile(dest)
	if err != nil {
		return 0, err
	}
	if hash == obj.Hash {
		return actUnchanged, nil
	}
	if e.State != nil {
		rec, ok, err := e.State.Get(obj.Name)
		if err != nil {
			return 0, err
		}
		// unchanged since the last backup or restore
		if ok && rec.Hash == hash {
			return actWrite, nil
		}
	}
	return actConflict, nil
}

func (e *Engine) write(obj *git.Object, dest string) error {
	content, err := e.Git.CatFile(obj.Hash)
	if err != nil {
		return errors.Wrapf(err, "could not read %s", obj.Name)
	}
	e.logger().Debug("restoring", zap.String("path", dest))
	if err = fsutil.WriteFile(dest, bytes.NewReader(content), obj.FileMode()); err != nil {
		return err
	}
	hash, err := git.HashFile(dest)
	if err != nil {
		return err
	}
	if hash != obj.Hash {
		return errors.Wrapf(ErrVerify, "%s", dest)
	}
	return nil
}

// stored returns the record kept for repoPath so that updating it keeps the
// fields restore does not own.
func (e *Engine) stored(repoPath string) (state.Record, error) {
	if e.State == nil {
		return state.Record{}, nil
	}
	rec, _, err := e.State.Get(repoPath)
	return rec, err
}

// backupName picks a file name next to dest that does not exist yet:
// dest.syd~, then dest.syd~1, dest.syd~2 and so on.
func backupName(dest string) (string, error) {
	name := dest + BackupSuffix
	for i := 1; ; i++ {
		_, err := os.Lstat(name)
		if os.IsNotExist(err) {
			return name, nil
		} else if err != nil {
			return "", err
		}
		name = fmt.Sprintf("%s%s%d", dest, BackupSuffix, i)
	}
}

func (e *Engine) record(records map[string]state.Record, now time.Time) error {
	if e.State == nil {
		return nil
	}
	if err := e.State.PutAll(records); err != nil {
		return err
	}
	return e.State.Stamp(state.MetaLastRestore, now)
}

func (e *Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// resolve follows a symlink at p so that restoring writes through it instead
// of replacing the link.
func resolve(p string) string {
	info, err := os.Lstat(p)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return p
	}
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	return p
}
