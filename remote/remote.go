// Package remote keeps the backup repository in sync with its remote using
// go-git.
package remote

import (
	"context"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/sideband"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harrybrwn/syd/git"
)

const originName = "origin"

var (
	ErrNoRemote            = errors.New("no remote repository configured")
	ErrEmptyRemote         = errors.New("remote repository is empty")
	ErrRemoteBranchMissing = errors.New("remote branch does not exist")
	ErrRejected            = errors.New("push rejected: remote has changes that are not present locally")
	ErrDiverged            = errors.New("local and remote history have diverged")
)

// Worker synchronizes the repository at path with a single branch of origin.
type Worker struct {
	path     string
	origin   string
	branch   plumbing.ReferenceName
	progress sideband.Progress
	auth     transport.AuthMethod
	log      *zap.Logger
}

type Option func(*Worker)

func Branch(name string) Option {
	return func(w *Worker) { w.branch = plumbing.NewBranchReferenceName(name) }
}

// Auth overrides the authentication method chosen from the remote URL.
func Auth(auth transport.AuthMethod) Option {
	return func(w *Worker) { w.auth = auth }
}

// Progress sets where transfer progress is written.
func Progress(progress sideband.Progress) Option {
	return func(w *Worker) { w.progress = progress }
}

func Logger(l *zap.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// New returns a Worker for the repository at path. New does not touch the
// filesystem.
func New(path, origin string, options ...Option) *Worker {
	path, _ = filepath.Abs(path)
	w := &Worker{
		path:   path,
		origin: origin,
		branch: plumbing.NewBranchReferenceName(git.DefaultBranch),
		log:    zap.NewNop(),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

func (w *Worker) Path() string   { return w.path }
func (w *Worker) Origin() string { return w.origin }
func (w *Worker) Branch() string { return w.branch.Short() }

// RemoteRef is the remote-tracking ref that Fetch updates.
func (w *Worker) RemoteRef() string {
	return "refs/remotes/" + originName + "/" + w.branch.Short()
}

// Clone clones the configured branch into the worker's path. ErrEmptyRemote
// is returned when the remote has no commits yet.
func (w *Worker) Clone(ctx context.Context) error {
	if w.origin == "" {
		return ErrNoRemote
	}
	auth, err := w.authMethod()
	if err != nil {
		return err
	}
	w.log.Info("cloning", zap.String("origin", w.origin), zap.String("path", w.path))
	_, err = gogit.PlainCloneContext(ctx, w.path, false, &gogit.CloneOptions{
		URL:           w.origin,
		RemoteName:    originName,
		ReferenceName: w.branch,
		SingleBranch:  true,
		Progress:      w.progress,
		Auth:          auth,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return ErrEmptyRemote
	case errors.Is(err, plumbing.ErrReferenceNotFound), isNoMatchingRefSpec(err):
		return errors.Wrapf(ErrRemoteBranchMissing, "%s", w.branch.Short())
	default:
		return errors.Wrapf(err, "unable to clone %s", w.origin)
	}
}

// CloneOrInit makes sure a repository exists at the worker's path. Origin is
// cloned when set. An empty repository is initialized when there is no
// origin or the remote does not have the branch yet.
func (w *Worker) CloneOrInit(ctx context.Context, g *git.Git) (created bool, err error) {
	if g.Exists() {
		return false, nil
	}
	if w.origin != "" {
		err = w.Clone(ctx)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrEmptyRemote), errors.Is(err, ErrRemoteBranchMissing):
			w.log.Info("remote has no commits on branch, starting a new repository",
				zap.String("branch", w.branch.Short()))
		default:
			return false, err
		}
	}
	if err = g.Init(w.branch.Short()); err != nil {
		return false, errors.Wrap(err, "could not initialize repository")
	}
	return true, nil
}

// HasRemote reports whether an origin URL is configured.
func (w *Worker) HasRemote() bool { return w.origin != "" }

// Fetch updates the remote-tracking ref of the configured branch.
func (w *Worker) Fetch(ctx context.Context) error {
	repo, err := w.open()
	if err != nil {
		return err
	}
	if err = w.updateOrigin(repo); err != nil {
		return err
	}
	auth, err := w.authMethod()
	if err != nil {
		return err
	}
	spec := config.RefSpec("+" + w.branch.String() + ":" + w.RemoteRef())
	w.log.Debug("fetching", zap.String("origin", w.origin), zap.Stringer("refspec", spec))
	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: originName,
		RefSpecs:   []config.RefSpec{spec},
		Progress:   w.progress,
		Auth:       auth,
	})
	switch {
	case err == nil, errors.Is(err, gogit.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, transport.ErrEmptyRemoteRepository), isNoMatchingRefSpec(err):
		return errors.Wrapf(ErrRemoteBranchMissing, "%s", w.branch.Short())
	default:
		return errors.Wrapf(err, "unable to fetch from %s", w.origin)
	}
}

// Push sends the configured branch to origin. Pushes that are not fast
// forwards are rejected with ErrRejected.
func (w *Worker) Push(ctx context.Context) error {
	repo, err := w.open()
	if err != nil {
		return err
	}
	if err = w.updateOrigin(repo); err != nil {
		return err
	}
	auth, err := w.authMethod()
	if err != nil {
		return err
	}
	spec := config.RefSpec(w.branch.String() + ":" + w.branch.String())
	w.log.Info("pushing", zap.String("origin", w.origin), zap.String("branch", w.branch.Short()))
	err = repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: originName,
		RefSpecs:   []config.RefSpec{spec},
		Progress:   w.progress,
		Auth:       auth,
	})
	switch {
	case err == nil, errors.Is(err, gogit.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, gogit.ErrNonFastForwardUpdate),
		errors.Is(err, gogit.ErrForceNeeded),
		strings.Contains(err.Error(), "non-fast-forward"):
		return ErrRejected
	default:
		return errors.Wrapf(err, "unable to push to %s", w.origin)
	}
}

// Pull fetches the configured branch and fast-forwards the local branch of
// g to it. It reports whether the local branch moved. An empty remote is
// not an error.
func (w *Worker) Pull(ctx context.Context, g *git.Git) (bool, error) {
	err := w.Fetch(ctx)
	if errors.Is(err, ErrRemoteBranchMissing) {
		w.log.Debug("remote branch missing, nothing to pull", zap.String("branch", w.branch.Short()))
		return false, nil
	} else if err != nil {
		return false, err
	}
	ahead, behind, err := g.AheadBehind(w.RemoteRef())
	if err != nil {
		return false, err
	}
	w.log.Debug("compared with remote", zap.Int("ahead", ahead), zap.Int("behind", behind))
	if behind == 0 {
		return false, nil
	}
	if ahead > 0 {
		return false, errors.Wrapf(ErrDiverged, "%d local and %d remote commits", ahead, behind)
	}
	if err = g.FastForward(w.RemoteRef()); err != nil {
		return false, errors.Wrap(err, "could not fast-forward")
	}
	return true, nil
}

func (w *Worker) open() (*gogit.Repository, error) {
	if w.origin == "" {
		return nil, ErrNoRemote
	}
	repo, err := gogit.PlainOpen(w.path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open repository at %q", w.path)
	}
	return repo, nil
}

func (w *Worker) updateOrigin(repo *gogit.Repository) error {
	cfg := config.RemoteConfig{
		Name:  originName,
		URLs:  []string{w.origin},
		Fetch: []config.RefSpec{config.RefSpec("+refs/heads/*:refs/remotes/" + originName + "/*")},
	}
	remote, err := repo.Remote(originName)
	switch {
	case errors.Is(err, gogit.ErrRemoteNotFound):
		w.log.Debug("creating origin", zap.String("url", w.origin))
		_, err = repo.CreateRemote(&cfg)
		return err
	case err == nil:
		urls := remote.Config().URLs
		if len(urls) == 1 && urls[0] == w.origin {
			return nil
		}
		w.log.Info("updating origin", zap.Strings("old", urls), zap.String("url", w.origin))
		if err = repo.DeleteRemote(originName); err != nil {
			return err
		}
		_, err = repo.CreateRemote(&cfg)
		return err
	default:
		return err
	}
}

// authMethod returns the configured auth or, for ssh remotes, an ssh-agent
// backed one.
func (w *Worker) authMethod() (transport.AuthMethod, error) {
	if w.auth != nil {
		return w.auth, nil
	}
	if !IsSSH(w.origin) {
		return nil, nil
	}
	user := "git"
	if ep, err := transport.NewEndpoint(w.origin); err == nil && ep.User != "" {
		user = ep.User
	}
	auth, err := ssh.NewSSHAgentAuth(user)
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to ssh-agent")
	}
	return auth, nil
}

// IsSSH reports whether url uses the ssh transport, including the scp-like
// "user@host:path" form.
func IsSSH(url string) bool {
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return false
	}
	return ep.Protocol == "ssh"
}

func isNoMatchingRefSpec(err error) bool {
	var e gogit.NoMatchingRefSpecError
	return errors.As(err, &e)
}
