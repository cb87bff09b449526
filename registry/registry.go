// Package registry maps tracked filesystem paths to their location inside
// the backup repository and back.
package registry

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harrybrwn/syd/config"
)

// RootDir is the top-level repository directory holding files that live
// outside of the home directory.
const RootDir = "_root"

var (
	ErrReserved  = errors.New("path maps into the reserved " + RootDir + " directory")
	ErrCollision = errors.New("two tracked paths map to the same repository path")
	ErrBadPath   = errors.New("invalid repository path")
)

// Spec is one tracked path as written in the config along with its absolute
// form.
type Spec struct {
	Raw  string
	Path string

	repo string
}

// Entry is a single regular file covered by a Spec.
type Entry struct {
	Source   string
	RepoPath string
	Mode     fs.FileMode
	Size     int64
	Missing  bool
	Spec     string
}

type Registry struct {
	home    string
	specs   []Spec
	ignore  gitignore.Matcher
	exclude []string
	log     *zap.Logger
}

type Option func(*Registry)

// WithIgnore sets gitignore style patterns matched against repository paths.
func WithIgnore(patterns ...string) Option {
	return func(r *Registry) {
		ps := make([]gitignore.Pattern, 0, len(patterns))
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" || strings.HasPrefix(p, "#") {
				continue
			}
			ps = append(ps, gitignore.ParsePattern(p, nil))
		}
		r.ignore = gitignore.NewMatcher(ps)
	}
}

// WithExclude skips everything under the given directories while walking.
func WithExclude(dirs ...string) Option {
	return func(r *Registry) {
		for _, d := range dirs {
			r.exclude = append(r.exclude, filepath.Clean(d))
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func New(home string, specs []Spec, opts ...Option) (*Registry, error) {
	r := &Registry{
		home:   filepath.Clean(home),
		ignore: gitignore.NewMatcher(nil),
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	for _, s := range specs {
		s.Path = filepath.Clean(s.Path)
		repo, err := r.RepoPath(s.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", s.Raw)
		}
		s.repo = repo
		r.specs = append(r.specs, s)
	}
	return r, nil
}

// FromConfig builds a registry out of the tracked paths and ignore patterns
// in c.
func FromConfig(c *config.Config, opts ...Option) (*Registry, error) {
	x := c.Expander()
	home, err := x.Home()
	if err != nil {
		return nil, errors.Wrap(err, "could not find home directory")
	}
	specs := make([]Spec, 0, len(c.Files.Paths))
	for _, p := range c.Files.Paths {
		abs, err := x.Expand(p)
		if err != nil {
			return nil, err
		}
		specs = append(specs, Spec{Raw: p, Path: abs})
	}
	opts = append([]Option{WithIgnore(c.Files.Ignore...)}, opts...)
	return New(home, specs, opts...)
}

func (r *Registry) Home() string  { return r.home }
func (r *Registry) Specs() []Spec { return r.specs }

// RepoPath maps an absolute filesystem path to its repository path. Paths
// under the home directory keep their home-relative form and everything else
// is placed under RootDir.
func (r *Registry) RepoPath(abs string) (string, error) {
	if !filepath.IsAbs(abs) {
		return "", errors.Wrapf(config.ErrRelativePath, "%q", abs)
	}
	abs = filepath.Clean(abs)
	if rel, ok := within(r.home, abs); ok {
		rel = filepath.ToSlash(rel)
		if rel == RootDir || strings.HasPrefix(rel, RootDir+"/") {
			return "", ErrReserved
		}
		return rel, nil
	}
	p := strings.TrimPrefix(abs, filepath.VolumeName(abs))
	p = strings.TrimLeft(filepath.ToSlash(p), "/")
	if p == "" {
		return RootDir, nil
	}
	return RootDir + "/" + p, nil
}

// SourcePath is the inverse of RepoPath.
func (r *Registry) SourcePath(repoPath string) (string, error) {
	clean := path.Clean(repoPath)
	if repoPath == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Wrapf(ErrBadPath, "%q", repoPath)
	}
	if clean == RootDir {
		return "", errors.Wrapf(ErrBadPath, "%q", repoPath)
	}
	if rest, ok := strings.CutPrefix(clean, RootDir+"/"); ok {
		return filepath.FromSlash("/" + rest), nil
	}
	return filepath.Join(r.home, filepath.FromSlash(clean)), nil
}

// Owns reports whether repoPath is covered by a tracked path and not
// ignored.
func (r *Registry) Owns(repoPath string) bool {
	if r.ignored(repoPath, false) {
		return false
	}
	for _, s := range r.specs {
		if s.repo == "" || s.repo == repoPath || strings.HasPrefix(repoPath, s.repo+"/") {
			return true
		}
	}
	return false
}

// Resolve expands every tracked path into the regular files it covers,
// sorted by repository path.
func (r *Registry) Resolve() ([]Entry, error) {
	var (
		entries []Entry
		seen    = make(map[string]string)
	)
	add := func(e Entry) error {
		if src, ok := seen[e.RepoPath]; ok {
			if src == e.Source {
				return nil
			}
			return errors.Wrapf(ErrCollision, "%s and %s", src, e.Source)
		}
		seen[e.RepoPath] = e.Source
		entries = append(entries, e)
		return nil
	}
	for _, s := range r.specs {
		info, err := os.Stat(s.Path)
		if os.IsNotExist(err) {
			r.log.Debug("tracked path does not exist", zap.String("path", s.Path))
			if err = add(Entry{Source: s.Path, RepoPath: s.repo, Spec: s.Raw, Missing: true}); err != nil {
				return nil, err
			}
			continue
		} else if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !info.Mode().IsRegular() || r.ignored(s.repo, false) {
				continue
			}
			if err = add(entry(s, s.Path, s.repo, info)); err != nil {
				return nil, err
			}
			continue
		}
		if err = r.walk(s, add); err != nil {
			return nil, err
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RepoPath < entries[j].RepoPath
	})
	return entries, nil
}

func (r *Registry) walk(s Spec, add func(Entry) error) error {
	// the tracked directory may itself be a symlink
	root, err := filepath.EvalSymlinks(s.Path)
	if err != nil {
		return err
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		src := filepath.Join(s.Path, rel)
		repo := path.Join(s.repo, filepath.ToSlash(rel))
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if d.Name() == ".git" || r.excluded(src) || r.excluded(p) || r.ignored(repo, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if r.ignored(repo, false) {
			return nil
		}
		var info fs.FileInfo
		if d.Type()&fs.ModeSymlink != 0 {
			info, err = os.Stat(p)
			if err != nil {
				r.log.Debug("skipping broken symlink", zap.String("path", src))
				return nil
			}
		} else {
			info, err = d.Info()
			if err != nil {
				return err
			}
		}
		if !info.Mode().IsRegular() {
			r.log.Debug("skipping non-regular file", zap.String("path", src), zap.Stringer("mode", info.Mode()))
			return nil
		}
		return add(entry(s, src, repo, info))
	})
}

func (r *Registry) ignored(repoPath string, dir bool) bool {
	if repoPath == "" {
		return false
	}
	return r.ignore.Match(strings.Split(repoPath, "/"), dir)
}

func (r *Registry) excluded(p string) bool {
	for _, dir := range r.exclude {
		if _, ok := within(dir, p); ok {
			return true
		}
	}
	return false
}

func entry(s Spec, src, repo string, info fs.FileInfo) Entry {
	return Entry{
		Source:   src,
		RepoPath: repo,
		Mode:     info.Mode().Perm(),
		Size:     info.Size(),
		Spec:     s.Raw,
	}
}

// within returns p relative to dir when p is dir or one of its children.
func within(dir, p string) (string, bool) {
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return rel, true
}
