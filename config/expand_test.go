package config

import (
	"testing"

	"github.com/matryer/is"
	"github.com/pkg/errors"
)

func TestExpander(t *testing.T) {
	is := is.New(t)
	t.Setenv("SYD_TEST_DIR", "/opt/conf")
	x := NewExpanderWithHome(home("/home/me/"))
	for in, want := range map[string]string{
		"~":                  "/home/me",
		"~/.bashrc":          "/home/me/.bashrc",
		"~/.config/nvim/":    "/home/me/.config/nvim",
		"/etc/hosts":         "/etc/hosts",
		"$SYD_TEST_DIR/a":    "/opt/conf/a",
		"${SYD_TEST_DIR}/b/": "/opt/conf/b",
	} {
		got, err := x.Expand(in)
		is.NoErr(err)
		is.Equal(got, want)
	}
	for _, in := range []string{"", ".bashrc", "~user/.bashrc"} {
		_, err := x.Expand(in)
		is.True(errors.Is(err, ErrRelativePath))
	}
}

func TestExpander_Contract(t *testing.T) {
	is := is.New(t)
	x := NewExpanderWithHome(home("/home/me"))
	is.Equal(x.Contract("/home/me"), "~")
	is.Equal(x.Contract("/home/me/.config/git/config"), "~/.config/git/config")
	is.Equal(x.Contract("/home/meow/.bashrc"), "/home/meow/.bashrc")
	is.Equal(x.Contract("/etc/hosts"), "/etc/hosts")

	broken := NewExpanderWithHome(func() (string, error) { return "", errors.New("no home") })
	is.Equal(broken.Contract("/home/me/.bashrc"), "/home/me/.bashrc")
	_, err := broken.Expand("~/.bashrc")
	is.True(err != nil)
}
