package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrRelativePath is returned for tracked paths that are not absolute after
// expansion.
var ErrRelativePath = errors.New("path must be absolute or start with ~")

// HomeProvider resolves the current user's home directory.
type HomeProvider func() (string, error)

// Expander resolves "~" prefixes and environment variables in paths.
type Expander struct {
	provider HomeProvider
	getenv   func(string) string

	once sync.Once
	home string
	err  error
}

func NewExpander() *Expander { return NewExpanderWithHome(os.UserHomeDir) }

func NewExpanderWithHome(p HomeProvider) *Expander {
	if p == nil {
		p = os.UserHomeDir
	}
	return &Expander{provider: p, getenv: os.Getenv}
}

// Home returns the home directory, looking it up once.
func (e *Expander) Home() (string, error) {
	e.once.Do(func() {
		e.home, e.err = e.provider()
		if e.err == nil {
			e.home = filepath.Clean(e.home)
		}
	})
	return e.home, e.err
}

// Expand returns the absolute form of p.
func (e *Expander) Expand(p string) (string, error) {
	if p == "" {
		return "", ErrRelativePath
	}
	p = os.Expand(p, e.getenv)
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		home, err := e.Home()
		if err != nil {
			return "", errors.Wrap(err, "could not find home directory")
		}
		p = filepath.Join(home, p[1:])
	}
	if !filepath.IsAbs(p) {
		return "", errors.Wrapf(ErrRelativePath, "%q", p)
	}
	return filepath.Clean(p), nil
}

// Contract is the inverse of Expand for paths inside the home directory,
// which are returned in the "~/rel" form.
func (e *Expander) Contract(p string) string {
	home, err := e.Home()
	if err != nil || home == "" {
		return p
	}
	p = filepath.Clean(p)
	if p == home {
		return "~"
	}
	rel, err := filepath.Rel(home, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return "~/" + filepath.ToSlash(rel)
}
