package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/pkg/errors"

	"github.com/harrybrwn/syd/config"
)

func touch(t *testing.T, p, contents string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(contents), perm); err != nil {
		t.Fatal(err)
	}
}

func repoPaths(entries []Entry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.RepoPath
	}
	return paths
}

func TestRepoPath(t *testing.T) {
	is := is.New(t)
	r, err := New("/home/me", nil)
	is.NoErr(err)
	for in, want := range map[string]string{
		"/home/me/.bashrc":               ".bashrc",
		"/home/me/.config/nvim/init.lua": ".config/nvim/init.lua",
		"/home/me/":                      "",
		"/etc/hosts":                     "_root/etc/hosts",
		"/home/meow/.bashrc":             "_root/home/meow/.bashrc",
		"/":                              "_root",
	} {
		got, err := r.RepoPath(in)
		is.NoErr(err)
		is.Equal(got, want)
	}
	_, err = r.RepoPath("/home/me/_root/file")
	is.True(errors.Is(err, ErrReserved))
	_, err = r.RepoPath("relative")
	is.True(errors.Is(err, config.ErrRelativePath))
}

func TestSourcePath(t *testing.T) {
	is := is.New(t)
	r, err := New("/home/me", nil)
	is.NoErr(err)
	for _, p := range []string{
		"/home/me/.bashrc",
		"/home/me/.config/nvim/init.lua",
		"/etc/hosts",
		"/home/meow/.bashrc",
	} {
		repo, err := r.RepoPath(p)
		is.NoErr(err)
		back, err := r.SourcePath(repo)
		is.NoErr(err)
		is.Equal(back, p) // mapping should round trip
	}
	for _, bad := range []string{"", "../x", "/abs", "_root", "a/../../x"} {
		_, err := r.SourcePath(bad)
		is.True(errors.Is(err, ErrBadPath))
	}
}

func TestResolve(t *testing.T) {
	is := is.New(t)
	home := t.TempDir()
	outside := t.TempDir()
	touch(t, filepath.Join(home, ".bashrc"), "bash", 0644)
	touch(t, filepath.Join(home, ".config/nvim/init.lua"), "lua", 0644)
	touch(t, filepath.Join(home, ".config/nvim/lua/plugins.lua"), "plugins", 0644)
	touch(t, filepath.Join(home, ".config/nvim/.init.lua.swp"), "swap", 0644)
	touch(t, filepath.Join(home, ".config/nvim/.git/HEAD"), "ref: refs/heads/main", 0644)
	touch(t, filepath.Join(home, ".config/nvim/cache/x"), "x", 0644)
	touch(t, filepath.Join(home, "bin/run"), "#!/bin/sh", 0755)
	touch(t, filepath.Join(outside, "hosts"), "127.0.0.1 localhost", 0644)
	is.NoErr(os.Symlink(filepath.Join(home, ".bashrc"), filepath.Join(home, ".config/nvim/bashrc-link")))
	is.NoErr(os.Symlink(filepath.Join(home, "bin"), filepath.Join(home, ".config/nvim/bin-link")))
	is.NoErr(os.Symlink(filepath.Join(home, "nowhere"), filepath.Join(home, ".config/nvim/broken")))

	r, err := New(home, []Spec{
		{Raw: "~/.bashrc", Path: filepath.Join(home, ".bashrc")},
		{Raw: "~/.config/nvim", Path: filepath.Join(home, ".config/nvim")},
		{Raw: "~/.config/nvim/init.lua", Path: filepath.Join(home, ".config/nvim/init.lua")},
		{Raw: "~/bin/run", Path: filepath.Join(home, "bin/run")},
		{Raw: "~/.profile", Path: filepath.Join(home, ".profile")},
		{Raw: outside + "/hosts", Path: filepath.Join(outside, "hosts")},
	}, WithIgnore("*.swp", "cache/", "# comment", ""))
	is.NoErr(err)
	entries, err := r.Resolve()
	is.NoErr(err)

	hosts := "_root/" + strings.TrimPrefix(filepath.ToSlash(outside), "/") + "/hosts"
	is.Equal(repoPaths(entries), []string{
		".bashrc",
		".config/nvim/bashrc-link",
		".config/nvim/init.lua",
		".config/nvim/lua/plugins.lua",
		".profile",
		"_root/" + strings.TrimPrefix(filepath.ToSlash(outside), "/") + "/hosts",
		"bin/run",
	})
	byRepo := make(map[string]Entry)
	for _, e := range entries {
		byRepo[e.RepoPath] = e
	}
	is.True(byRepo[".profile"].Missing)
	is.Equal(byRepo[".profile"].Spec, "~/.profile")
	is.Equal(byRepo["bin/run"].Mode, os.FileMode(0755))
	is.Equal(byRepo[".bashrc"].Size, int64(4))
	is.Equal(byRepo[".config/nvim/bashrc-link"].Source, filepath.Join(home, ".config/nvim/bashrc-link"))
	is.Equal(byRepo[".config/nvim/init.lua"].Spec, "~/.config/nvim") // first spec wins
	is.Equal(byRepo[hosts].Source, filepath.Join(outside, "hosts"))

	is.True(r.Owns(".config/nvim/anything"))
	is.True(r.Owns(".bashrc"))
	is.True(!r.Owns(".bashrc.d/x"))
	is.True(!r.Owns(".config/nvim/x.swp"))
	is.True(!r.Owns(".zshrc"))
}

func TestResolveSymlinkedDir(t *testing.T) {
	is := is.New(t)
	home := t.TempDir()
	real := t.TempDir()
	touch(t, filepath.Join(real, "config.toml"), "x = 1", 0644)
	link := filepath.Join(home, ".config/app")
	is.NoErr(os.MkdirAll(filepath.Dir(link), 0755))
	is.NoErr(os.Symlink(real, link))
	r, err := New(home, []Spec{{Raw: "~/.config/app", Path: link}})
	is.NoErr(err)
	entries, err := r.Resolve()
	is.NoErr(err)
	is.Equal(len(entries), 1)
	is.Equal(entries[0].RepoPath, ".config/app/config.toml")
	is.Equal(entries[0].Source, filepath.Join(link, "config.toml"))
}

func TestResolveExclude(t *testing.T) {
	is := is.New(t)
	home := t.TempDir()
	touch(t, filepath.Join(home, ".local/share/syd/repo/.bashrc"), "copy", 0644)
	touch(t, filepath.Join(home, ".local/share/fonts/a.ttf"), "font", 0644)
	r, err := New(home,
		[]Spec{{Raw: "~/.local/share", Path: filepath.Join(home, ".local/share")}},
		WithExclude(filepath.Join(home, ".local/share/syd/repo")))
	is.NoErr(err)
	entries, err := r.Resolve()
	is.NoErr(err)
	is.Equal(repoPaths(entries), []string{".local/share/fonts/a.ttf"})
}

func TestResolveCollision(t *testing.T) {
	is := is.New(t)
	home := t.TempDir()
	touch(t, filepath.Join(home, "dots/.bashrc"), "a", 0644)
	link := filepath.Join(home, ".bashrc")
	is.NoErr(os.Symlink(filepath.Join(home, "dots/.bashrc"), link))
	r, err := New(home, []Spec{
		{Raw: "~/.bashrc", Path: link},
		{Raw: "~/dots", Path: filepath.Join(home, "dots")},
	})
	is.NoErr(err)
	_, err = r.Resolve()
	is.NoErr(err) // distinct repository paths

	r.specs[1].repo = ""
	_, err = r.Resolve()
	is.True(errors.Is(err, ErrCollision))
}

func TestNewReserved(t *testing.T) {
	is := is.New(t)
	_, err := New("/home/me", []Spec{{Raw: "~/_root/x", Path: "/home/me/_root/x"}})
	is.True(errors.Is(err, ErrReserved))
}

func TestFromConfig(t *testing.T) {
	is := is.New(t)
	home := t.TempDir()
	touch(t, filepath.Join(home, ".vimrc"), "set nu", 0644)
	touch(t, filepath.Join(home, ".vim/x.bak"), "bak", 0644)
	c := config.Default()
	c.SetExpander(config.NewExpanderWithHome(func() (string, error) { return home, nil }))
	c.Files.Paths = []string{"~/.vimrc", "~/.vim"}
	c.Files.Ignore = []string{"*.bak"}
	r, err := FromConfig(c)
	is.NoErr(err)
	is.Equal(r.Home(), home)
	entries, err := r.Resolve()
	is.NoErr(err)
	is.Equal(repoPaths(entries), []string{".vimrc"})

	c.Files.Paths = []string{"dotfiles/.vimrc"}
	_, err = FromConfig(c)
	is.True(errors.Is(err, config.ErrRelativePath))
}
