package restore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
	"github.com/pkg/errors"

	"github.com/harrybrwn/syd/config"
	"github.com/harrybrwn/syd/git"
	"github.com/harrybrwn/syd/registry"
	"github.com/harrybrwn/syd/remote"
	"github.com/harrybrwn/syd/snapshot"
	"github.com/harrybrwn/syd/state"
)

// machine is one home directory with its own backup repository.
type machine struct {
	home    string
	backup  *snapshot.Engine
	restore *Engine
}

func newMachine(t *testing.T, origin string, tracked ...string) *machine {
	t.Helper()
	home := t.TempDir()
	repo := filepath.Join(t.TempDir(), "repo")
	specs := make([]registry.Spec, len(tracked))
	for i, p := range tracked {
		specs[i] = registry.Spec{Raw: "~/" + p, Path: filepath.Join(home, p)}
	}
	reg, err := registry.New(home, specs)
	if err != nil {
		t.Fatal(err)
	}
	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	g := git.Open(repo)
	g.SetOut(io.Discard)
	g.SetErr(io.Discard)
	g.SetPersistentArgs([]string{"-c", "commit.gpgsign=false"})
	w := remote.New(repo, origin)
	return &machine{
		home:    home,
		backup:  &snapshot.Engine{Git: g, Registry: reg, Remote: w, State: st},
		restore: &Engine{Git: g, Registry: reg, Remote: w, State: st},
	}
}

func (m *machine) write(t *testing.T, name, contents string, perm os.FileMode) {
	t.Helper()
	p := filepath.Join(m.home, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(contents), perm); err != nil {
		t.Fatal(err)
	}
}

func (m *machine) read(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(m.home, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func (m *machine) doBackup(t *testing.T) {
	t.Helper()
	_, err := m.backup.Backup(context.Background(), snapshot.Options{
		User: "syd test", Email: "test@example.com", Pull: true, Push: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func origin(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "origin.git")
	if err := git.New(dir, "").InitBare("main"); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRestore(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	url := origin(t)
	laptop := newMachine(t, url, ".bashrc", ".config/nvim", "bin/run")
	laptop.write(t, ".bashrc", "export EDITOR=nvim\n", 0644)
	laptop.write(t, ".config/nvim/init.lua", "vim.o.number = true\n", 0644)
	laptop.write(t, "bin/run", "#!/bin/sh\n", 0755)
	laptop.doBackup(t)

	desktop := newMachine(t, url, ".bashrc", ".config/nvim", "bin/run")
	var progress int
	desktop.restore.Progress = func(done, total int, _ string) {
		progress = done
		is.Equal(total, 3)
	}
	res, err := desktop.restore.Restore(ctx, Options{})
	is.NoErr(err)
	is.True(res.Pulled) // cloned
	is.Equal(res.Restored, []string{".bashrc", ".config/nvim/init.lua", "bin/run"})
	is.Equal(progress, 3)
	is.Equal(desktop.read(t, ".config/nvim/init.lua"), "vim.o.number = true\n")
	info, err := os.Stat(filepath.Join(desktop.home, "bin/run"))
	is.NoErr(err)
	is.Equal(info.Mode().Perm(), os.FileMode(0755))
	rec, ok, err := desktop.restore.State.Get(".bashrc")
	is.NoErr(err)
	is.True(ok)
	is.Equal(rec.Source, filepath.Join(desktop.home, ".bashrc"))
	is.True(!rec.Restored.IsZero())
	desktop.restore.Progress = nil

	res, err = desktop.restore.Restore(ctx, Options{})
	is.NoErr(err)
	is.Equal(len(res.Restored), 0)
	is.Equal(len(res.Unchanged), 3)

	// an update from the laptop overwrites files that were not edited locally
	laptop.write(t, ".bashrc", "export EDITOR=vim\n", 0644)
	laptop.doBackup(t)
	res, err = desktop.restore.Restore(ctx, Options{})
	is.NoErr(err)
	is.True(res.Pulled)
	is.Equal(res.Restored, []string{".bashrc"})
	is.Equal(len(res.Conflicts), 0)
	is.Equal(desktop.read(t, ".bashrc"), "export EDITOR=vim\n")

	// restoring keeps what the last backup recorded
	_, err = laptop.restore.Restore(ctx, Options{})
	is.NoErr(err)
	rec, ok, err = laptop.restore.State.Get(".bashrc")
	is.NoErr(err)
	is.True(ok)
	is.True(!rec.BackedUp.IsZero())
	is.True(!rec.Restored.IsZero())
}

func TestRestoreConflicts(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	m := newMachine(t, "", ".bashrc", ".vimrc")
	m.write(t, ".bashrc", "original", 0644)
	m.write(t, ".vimrc", "set nu", 0644)
	m.doBackup(t)

	// edited locally after the backup
	m.write(t, ".bashrc", "local edit", 0644)
	// never synced on this machine
	is.NoErr(m.restore.State.Delete(".vimrc"))
	m.write(t, ".vimrc", "set rnu", 0644)

	res, err := m.restore.Restore(ctx, Options{})
	is.NoErr(err)
	is.Equal(res.Conflicts, []string{".bashrc", ".vimrc"})
	is.Equal(m.read(t, ".bashrc"), "local edit") // skip is the default

	res, err = m.restore.Restore(ctx, Options{OnConflict: config.ConflictBackup, Only: []string{"~/.bashrc"}})
	is.NoErr(err)
	is.Equal(res.BackedUp, []string{".bashrc"})
	is.Equal(res.Restored, []string{".bashrc"})
	is.Equal(m.read(t, ".bashrc"), "original")
	is.Equal(m.read(t, ".bashrc"+BackupSuffix), "local edit")
	is.Equal(res.SavedAs[".bashrc"], filepath.Join(m.home, ".bashrc"+BackupSuffix))

	// an earlier saved copy is never replaced
	m.write(t, ".bashrc", "second edit", 0644)
	res, err = m.restore.Restore(ctx, Options{OnConflict: config.ConflictBackup, Only: []string{"~/.bashrc"}})
	is.NoErr(err)
	is.Equal(res.BackedUp, []string{".bashrc"})
	is.Equal(res.SavedAs[".bashrc"], filepath.Join(m.home, ".bashrc"+BackupSuffix+"1"))
	is.Equal(m.read(t, ".bashrc"+BackupSuffix), "local edit")
	is.Equal(m.read(t, ".bashrc"+BackupSuffix+"1"), "second edit")
	is.Equal(m.read(t, ".bashrc"), "original")

	res, err = m.restore.Restore(ctx, Options{OnConflict: config.ConflictOverwrite})
	is.NoErr(err)
	is.Equal(res.Restored, []string{".vimrc"})
	is.Equal(res.Unchanged, []string{".bashrc"})
	is.Equal(m.read(t, ".vimrc"), "set nu")

	_, err = m.restore.Restore(ctx, Options{OnConflict: "ask"})
	is.True(err != nil)
}

func TestRestoreDirectoryBlocks(t *testing.T) {
	is := is.New(t)
	m := newMachine(t, "", ".vimrc")
	m.write(t, ".vimrc", "set nu", 0644)
	m.doBackup(t)
	is.NoErr(os.Remove(filepath.Join(m.home, ".vimrc")))
	is.NoErr(os.Mkdir(filepath.Join(m.home, ".vimrc"), 0755))
	res, err := m.restore.Restore(context.Background(), Options{OnConflict: config.ConflictOverwrite})
	is.NoErr(err)
	is.Equal(res.Conflicts, []string{".vimrc"})
}

func TestRestoreFiltering(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	url := origin(t)
	laptop := newMachine(t, url, ".bashrc", ".config/nvim", ".zshrc")
	laptop.write(t, ".bashrc", "bash", 0644)
	laptop.write(t, ".zshrc", "zsh", 0644)
	laptop.write(t, ".config/nvim/init.lua", "lua", 0644)
	laptop.write(t, ".config/nvim/lua/opts.lua", "opts", 0644)
	laptop.doBackup(t)

	server := newMachine(t, url, ".bashrc", ".config/nvim")
	res, err := server.restore.Restore(ctx, Options{DryRun: true})
	is.NoErr(err)
	is.Equal(res.Restored, []string{".bashrc", ".config/nvim/init.lua", ".config/nvim/lua/opts.lua"})
	is.Equal(res.Skipped, []string{".zshrc"})
	_, err = os.Stat(filepath.Join(server.home, ".bashrc"))
	is.True(os.IsNotExist(err)) // dry run writes nothing

	res, err = server.restore.Restore(ctx, Options{Only: []string{".config/nvim"}})
	is.NoErr(err)
	is.Equal(res.Restored, []string{".config/nvim/init.lua", ".config/nvim/lua/opts.lua"})

	res, err = server.restore.Restore(ctx, Options{Only: []string{filepath.Join(server.home, ".bashrc")}})
	is.NoErr(err)
	is.Equal(res.Restored, []string{".bashrc"})

	_, err = server.restore.Restore(ctx, Options{Only: []string{".tmux.conf"}})
	is.True(errors.Is(err, ErrNoMatch))

	res, err = server.restore.Restore(ctx, Options{All: true, Offline: true})
	is.NoErr(err)
	is.Equal(res.Restored, []string{".zshrc"})
	is.True(!res.Pulled)
	is.Equal(server.read(t, ".zshrc"), "zsh")
}

func TestRestoreSymlink(t *testing.T) {
	is := is.New(t)
	m := newMachine(t, "", ".gitconfig")
	m.write(t, ".gitconfig", "[user]\n\tname = me\n", 0644)
	m.doBackup(t)

	// the home file is a symlink into a dotfiles checkout
	target := filepath.Join(m.home, "dotfiles", "gitconfig")
	m.write(t, "dotfiles/gitconfig", "stale", 0644)
	link := filepath.Join(m.home, ".gitconfig")
	is.NoErr(os.Remove(link))
	is.NoErr(os.Symlink(target, link))

	res, err := m.restore.Restore(context.Background(), Options{OnConflict: config.ConflictOverwrite})
	is.NoErr(err)
	is.Equal(res.Restored, []string{".gitconfig"})
	info, err := os.Lstat(link)
	is.NoErr(err)
	is.True(info.Mode()&os.ModeSymlink != 0) // link is kept
	b, err := os.ReadFile(target)
	is.NoErr(err)
	is.Equal(string(b), "[user]\n\tname = me\n")
}

func TestRestoreNoRepository(t *testing.T) {
	is := is.New(t)
	m := newMachine(t, "", ".bashrc")
	_, err := m.restore.Restore(context.Background(), Options{})
	is.True(errors.Is(err, ErrNoRepository))

	url := origin(t)
	m = newMachine(t, url, ".bashrc")
	_, err = m.restore.Restore(context.Background(), Options{Offline: true})
	is.True(errors.Is(err, ErrNoRepository))
	_, err = m.restore.Restore(context.Background(), Options{})
	is.True(errors.Is(err, remote.ErrEmptyRemote))
}

func TestRestoreSkipsReservedName(t *testing.T) {
	is := is.New(t)
	m := newMachine(t, "", ".bashrc")
	m.write(t, ".bashrc", "bash", 0644)
	m.doBackup(t)

	// a file named like the directory for paths outside of home
	g := m.restore.Git
	is.NoErr(os.WriteFile(filepath.Join(g.WorkingTree(), registry.RootDir), []byte("x"), 0644))
	is.NoErr(g.Add(registry.RootDir))
	is.NoErr(g.Commit("add a stray file"))

	res, err := m.restore.Restore(context.Background(), Options{All: true})
	is.NoErr(err)
	is.Equal(res.Skipped, []string{registry.RootDir})
	is.Equal(res.Unchanged, []string{".bashrc"})
}
