package remote

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
	"github.com/pkg/errors"

	"github.com/harrybrwn/syd/git"
)

func bare(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	g := git.New(dir, "")
	if err := g.InitBare("main"); err != nil {
		t.Fatal(err)
	}
	return dir
}

func local(t *testing.T, dir string) *git.Git {
	t.Helper()
	g := git.Open(dir)
	g.SetOut(io.Discard)
	g.SetErr(io.Discard)
	g.SetPersistentArgs([]string{"-c", "commit.gpgsign=false"})
	g.SetIdentity("syd test", "test@example.com")
	return g
}

func commit(t *testing.T, g *git.Git, name, contents string) {
	t.Helper()
	p := filepath.Join(g.WorkingTree(), name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(name); err != nil {
		t.Fatal(err)
	}
	if err := g.Commit("update " + name); err != nil {
		t.Fatal(err)
	}
}

func TestIsSSH(t *testing.T) {
	is := is.New(t)
	for url, want := range map[string]bool{
		"git@github.com:me/dotfiles.git":        true,
		"ssh://git@example.com/dotfiles.git":    true,
		"https://github.com/me/dotfiles.git":    false,
		"file:///srv/git/dotfiles.git":          false,
		"/srv/git/dotfiles.git":                 false,
		"deploy@example.com:/srv/dotfiles.git":  true,
		"http://localhost:8080/me/dotfiles.git": false,
	} {
		is.Equal(IsSSH(url), want)
	}
}

func TestWorker_Defaults(t *testing.T) {
	is := is.New(t)
	w := New("relative/repo", "/srv/dots.git")
	is.True(filepath.IsAbs(w.Path()))
	is.Equal(w.Branch(), "main")
	is.Equal(w.RemoteRef(), "refs/remotes/origin/main")
	w = New("/repo", "", Branch("trunk"))
	is.Equal(w.Branch(), "trunk")
	is.Equal(w.Clone(context.Background()), ErrNoRemote)
	is.Equal(w.Fetch(context.Background()), ErrNoRemote)
	auth, err := New("/repo", "https://example.com/x.git").authMethod()
	is.NoErr(err)
	is.True(auth == nil)
}

func TestWorker_CloneEmpty(t *testing.T) {
	is := is.New(t)
	origin := bare(t)
	w := New(filepath.Join(t.TempDir(), "repo"), origin)
	err := w.Clone(context.Background())
	is.True(errors.Is(err, ErrEmptyRemote))
}

func TestWorker_PushCloneFetch(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	origin := bare(t)

	first := local(t, filepath.Join(t.TempDir(), "first"))
	is.NoErr(first.Init("main"))
	commit(t, first, ".bashrc", "v1")
	w1 := New(first.WorkingTree(), origin)

	_, err := w1.Pull(ctx, first)
	is.NoErr(err) // empty remote is not an error for pull
	is.NoErr(w1.Push(ctx))
	is.NoErr(w1.Push(ctx)) // already up to date

	dir := filepath.Join(t.TempDir(), "second")
	w2 := New(dir, origin)
	is.NoErr(w2.Clone(ctx))
	second := local(t, dir)
	b, err := os.ReadFile(filepath.Join(dir, ".bashrc"))
	is.NoErr(err)
	is.Equal(string(b), "v1")

	commit(t, second, ".bashrc", "v2")
	is.NoErr(w2.Push(ctx))

	moved, err := w1.Pull(ctx, first)
	is.NoErr(err)
	is.True(moved)
	b, err = os.ReadFile(filepath.Join(first.WorkingTree(), ".bashrc"))
	is.NoErr(err)
	is.Equal(string(b), "v2")
	moved, err = w1.Pull(ctx, first)
	is.NoErr(err)
	is.True(!moved)

	// diverge
	commit(t, first, ".vimrc", "set nu")
	commit(t, second, ".profile", "export A=1")
	is.NoErr(w2.Push(ctx))
	_, err = w1.Pull(ctx, first)
	is.True(errors.Is(err, ErrDiverged))
	is.True(errors.Is(w1.Push(ctx), ErrRejected))
}

func TestWorker_MissingBranch(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	origin := bare(t)
	g := local(t, filepath.Join(t.TempDir(), "repo"))
	is.NoErr(g.Init("main"))
	commit(t, g, "a", "a")
	is.NoErr(New(g.WorkingTree(), origin).Push(ctx))

	w := New(g.WorkingTree(), origin, Branch("laptop"))
	is.True(errors.Is(w.Fetch(ctx), ErrRemoteBranchMissing))
	err := New(filepath.Join(t.TempDir(), "clone"), origin, Branch("laptop")).Clone(ctx)
	is.True(errors.Is(err, ErrRemoteBranchMissing))
}

func TestWorker_UpdateOrigin(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	oldOrigin, newOrigin := bare(t), bare(t)
	g := local(t, filepath.Join(t.TempDir(), "repo"))
	is.NoErr(g.Init("main"))
	commit(t, g, "a", "a")
	is.NoErr(New(g.WorkingTree(), oldOrigin).Push(ctx))
	is.NoErr(New(g.WorkingTree(), newOrigin).Push(ctx))
	url, err := g.RemoteURL("origin")
	is.NoErr(err)
	is.Equal(url, newOrigin)
}

func TestWorker_CloneOrInit(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	// local only
	g := local(t, filepath.Join(t.TempDir(), "repo"))
	w := New(g.WorkingTree(), "", Branch("trunk"))
	is.True(!w.HasRemote())
	created, err := w.CloneOrInit(ctx, g)
	is.NoErr(err)
	is.True(created)
	branch, err := g.CurrentBranch()
	is.NoErr(err)
	is.Equal(branch, "trunk")
	created, err = w.CloneOrInit(ctx, g)
	is.NoErr(err)
	is.True(!created) // already exists

	// empty remote
	origin := bare(t)
	g = local(t, filepath.Join(t.TempDir(), "repo"))
	created, err = New(g.WorkingTree(), origin).CloneOrInit(ctx, g)
	is.NoErr(err)
	is.True(created)
	is.True(g.Exists())
	commit(t, g, ".zshrc", "zsh")
	is.NoErr(New(g.WorkingTree(), origin).Push(ctx))

	// remote with commits
	other := local(t, filepath.Join(t.TempDir(), "other"))
	created, err = New(other.WorkingTree(), origin).CloneOrInit(ctx, other)
	is.NoErr(err)
	is.True(created)
	files, err := other.LsFiles()
	is.NoErr(err)
	is.Equal(files, []string{".zshrc"})
}
