// Package snapshot copies tracked files into the backup repository and
// commits them.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harrybrwn/syd/fsutil"
	"github.com/harrybrwn/syd/git"
	"github.com/harrybrwn/syd/hooks"
	"github.com/harrybrwn/syd/registry"
	"github.com/harrybrwn/syd/remote"
	"github.com/harrybrwn/syd/secrets"
	"github.com/harrybrwn/syd/state"
)

var (
	ErrSecretsFound = errors.New("refusing to back up files that contain secrets")
	ErrVerify       = errors.New("backup verification failed")
)

// ProgressFunc is called after each file is copied into the repository.
type ProgressFunc func(done, total int, repoPath string)

type Engine struct {
	Git      *git.Git
	Registry *registry.Registry
	Remote   *remote.Worker
	// State and Scanner are optional.
	State    *state.Store
	Scanner  *secrets.Scanner
	Hooks    *hooks.Runner
	Log      *zap.Logger
	Progress ProgressFunc
	Now      func() time.Time
}

type Options struct {
	Message string
	// User and Email override the git identity for the commit.
	User  string
	Email string

	DryRun       bool
	Prune        bool
	Pull         bool
	Push         bool
	AllowSecrets bool

	PreHooks  []string
	PostHooks []string
}

type Result struct {
	Changed   bool
	Commit    string
	Added     []string
	Modified  []string
	Removed   []string
	Missing   []string
	Unchanged []string
	// Behind were changed in the repository by another machine and need a
	// restore rather than a backup.
	Behind []string

	Pulled   bool
	Pushed   bool
	Findings []secrets.Finding
}

// Backup brings the repository in line with the tracked files and commits
// the difference.
func (e *Engine) Backup(ctx context.Context, opts Options) (*Result, error) {
	log := e.logger()
	var pulled bool
	if !opts.DryRun && e.Hooks != nil {
		if err := e.Hooks.Run(ctx, hooks.PreBackup, opts.PreHooks); err != nil {
			return nil, err
		}
	}
	if !opts.DryRun {
		if _, err := e.Remote.CloneOrInit(ctx, e.Git); err != nil {
			return nil, err
		}
		if err := e.identity(opts); err != nil {
			return nil, err
		}
		if opts.Pull && e.Remote.HasRemote() {
			var err error
			if pulled, err = e.Remote.Pull(ctx, e.Git); err != nil {
				return nil, errors.Wrap(err, "could not update from remote")
			}
			if pulled {
				log.Info("pulled remote changes before backup")
			}
		}
	}

	entries, err := e.Registry.Resolve()
	if err != nil {
		return nil, err
	}
	var head []*git.Object
	if e.Git.Exists() {
		if head, err = e.Git.Files(); err != nil {
			return nil, errors.Wrap(err, "could not list repository files")
		}
	}
	plan, err := NewPlan(entries, head)
	if err != nil {
		return nil, err
	}
	if e.State != nil {
		synced, err := e.State.All()
		if err != nil {
			return nil, err
		}
		plan.SplitBehind(synced)
	}
	res := &Result{
		Added:     paths(plan.Added),
		Modified:  paths(plan.Modified),
		Missing:   paths(plan.Missing),
		Unchanged: paths(plan.Unchanged),
		Behind:    paths(plan.Behind),
		Pulled:    pulled,
	}
	if opts.Prune {
		res.Removed = plan.Orphaned
	}
	for _, m := range plan.Missing {
		log.Warn("tracked path does not exist", zap.String("path", m.Source))
	}
	for _, b := range plan.Behind {
		log.Info("repository has a newer version", zap.String("path", b.RepoPath))
	}

	if e.Scanner != nil {
		if err = e.scan(plan, res); err != nil {
			return nil, err
		}
		if len(res.Findings) > 0 && !opts.AllowSecrets {
			return res, errors.Wrapf(ErrSecretsFound, "%d finding(s)", len(res.Findings))
		}
	}
	res.Changed = len(res.Added)+len(res.Modified)+len(res.Removed) > 0
	if opts.DryRun {
		return res, nil
	}

	if err = e.copy(plan); err != nil {
		return nil, err
	}
	if len(res.Removed) > 0 {
		log.Info("pruning untracked files", zap.Strings("paths", res.Removed))
		if err = e.Git.Remove(res.Removed...); err != nil {
			return nil, errors.Wrap(err, "could not prune files")
		}
	}

	staged, err := e.Git.HasStaged()
	if err != nil {
		return nil, err
	}
	res.Changed = staged
	if staged {
		msg := commitMessage(opts.Message, res)
		if err = e.Git.Commit(msg); err != nil {
			return nil, errors.Wrap(err, "could not commit")
		}
	}
	if res.Commit, err = e.Git.HeadCommit(); err != nil {
		return nil, err
	}
	if staged {
		log.Info("committed backup", zap.String("commit", res.Commit))
	}

	if opts.Push && e.Remote.HasRemote() && res.Commit != "" {
		if res.Pushed, err = e.push(ctx, staged); err != nil {
			return res, err
		}
	}
	if err = e.record(plan, res); err != nil {
		return res, err
	}
	if e.Hooks != nil {
		if err = e.Hooks.Run(ctx, hooks.PostBackup, opts.PostHooks); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Engine) identity(opts Options) error {
	// configured values fill in whatever git does not already know
	e.Git.SetIdentity(opts.User, opts.Email)
	if _, _, err := e.Git.Identity(); err != nil {
		return errors.Wrap(err, "set user.name and user.email with git config or in the [repository] table")
	}
	return nil
}

func (e *Engine) scan(plan *Plan, res *Result) error {
	for _, entry := range plan.Changed() {
		content, err := os.ReadFile(entry.Source)
		if err != nil {
			return err
		}
		found := e.Scanner.Scan(entry.RepoPath, content)
		res.Findings = append(res.Findings, found...)
	}
	return nil
}

func (e *Engine) copy(plan *Plan) error {
	changed := plan.Changed()
	if len(changed) == 0 {
		return nil
	}
	log := e.logger()
	names := make([]string, 0, len(changed))
	for i, entry := range changed {
		dst := filepath.Join(e.Git.WorkingTree(), filepath.FromSlash(entry.RepoPath))
		log.Debug("copying", zap.String("src", entry.Source), zap.String("dst", dst))
		if err := fsutil.CopyFile(entry.Source, dst, entry.Mode); err != nil {
			return errors.Wrapf(err, "could not copy %s", entry.Source)
		}
		hash, err := git.HashFile(dst)
		if err != nil {
			return err
		}
		if want := plan.Hash(entry.RepoPath); hash != want {
			return errors.Wrapf(ErrVerify, "%s: content changed while copying", entry.Source)
		}
		names = append(names, entry.RepoPath)
		if e.Progress != nil {
			e.Progress(i+1, len(changed), entry.RepoPath)
		}
	}
	return e.Git.Add(names...)
}

// push sends new commits to the remote. Without a new commit it only pushes
// when the remote is behind, which covers an earlier push that failed.
func (e *Engine) push(ctx context.Context, committed bool) (bool, error) {
	if !committed {
		ahead, _, err := e.Git.AheadBehind(e.Remote.RemoteRef())
		if err == nil && ahead == 0 {
			return false, nil
		}
	}
	if err := e.Remote.Push(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) record(plan *Plan, res *Result) error {
	if e.State == nil {
		return nil
	}
	now := e.now()
	records := make(map[string]state.Record)
	for _, list := range [][]registry.Entry{plan.Added, plan.Modified, plan.Unchanged} {
		for _, entry := range list {
			rec, _, err := e.State.Get(entry.RepoPath)
			if err != nil {
				return err
			}
			rec.Source = entry.Source
			rec.Hash = plan.Hash(entry.RepoPath)
			rec.Size = entry.Size
			rec.Mode = entry.Mode
			rec.BackedUp = now
			rec.Commit = res.Commit
			records[entry.RepoPath] = rec
		}
	}
	if err := e.State.PutAll(records); err != nil {
		return err
	}
	if len(res.Removed) > 0 {
		if err := e.State.Delete(res.Removed...); err != nil {
			return err
		}
	}
	if err := e.State.Stamp(state.MetaLastBackup, now); err != nil {
		return err
	}
	return e.State.SetMeta(state.MetaLastCommit, res.Commit)
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

// commitMessage uses the configured subject followed by one line per kind of
// change.
func commitMessage(subject string, res *Result) string {
	if subject == "" {
		subject = "Update dotfiles"
	}
	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\n")
	for _, ch := range []struct {
		op    string
		files []string
	}{
		{"add", res.Added},
		{"update", res.Modified},
		{"remove", res.Removed},
	} {
		if len(ch.files) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n[%s] %s", ch.op, strings.Join(ch.files, ", "))
	}
	return b.String()
}
