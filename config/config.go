// Package config reads and writes the syd configuration file.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	name     = "syd"
	filename = "syd.conf"

	DefaultBranch        = "main"
	DefaultCommitMessage = "Update dotfiles"
)

var (
	ErrNotFound = errors.New("config file not found")
	ErrParse    = errors.New("could not parse config")
	ErrNoPaths  = errors.New("no tracked paths configured")
)

// ConflictPolicy decides what restore does with a destination file that was
// edited locally since the last sync.
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictBackup    ConflictPolicy = "backup"
)

func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictSkip, ConflictOverwrite, ConflictBackup:
		return true
	}
	return false
}

type Config struct {
	Repository Repository `toml:"repository"`
	Files      Files      `toml:"files"`
	Backup     Backup     `toml:"backup"`
	Restore    Restore    `toml:"restore"`
	Hooks      Hooks      `toml:"hooks"`

	// Path is the file the config was loaded from.
	Path string `toml:"-"`
	// Unknown holds keys that were present in the file but not understood.
	Unknown []string `toml:"-"`

	expander *Expander
}

type Repository struct {
	Remote        string `toml:"remote"`
	Branch        string `toml:"branch"`
	Path          string `toml:"path,omitempty"`
	CommitMessage string `toml:"commit_message,omitempty"`
	User          string `toml:"user,omitempty"`
	Email         string `toml:"email,omitempty"`
}

type Files struct {
	Paths  []string `toml:"paths"`
	Ignore []string `toml:"ignore,omitempty"`
}

type Backup struct {
	Prune       bool `toml:"prune"`
	Push        bool `toml:"push"`
	ScanSecrets bool `toml:"scan_secrets"`
}

type Restore struct {
	OnConflict ConflictPolicy `toml:"on_conflict"`
}

type Hooks struct {
	PreBackup   []string `toml:"pre_backup,omitempty"`
	PostBackup  []string `toml:"post_backup,omitempty"`
	PreRestore  []string `toml:"pre_restore,omitempty"`
	PostRestore []string `toml:"post_restore,omitempty"`
}

// fileConfig is the on-disk shape, which also accepts the older layouts
// that put the tracked files under [paths] and the repository under [git].
type fileConfig struct {
	Repository Repository `toml:"repository"`
	Git        struct {
		Repository    string `toml:"repository"`
		Branch        string `toml:"branch"`
		CommitMessage string `toml:"commit_message"`
	} `toml:"git"`
	Paths struct {
		Files []string `toml:"files"`
	} `toml:"paths"`
	Files struct {
		Paths          []string `toml:"paths"`
		Folders        []string `toml:"folders"`
		Folder         string   `toml:"folder"`
		Ignore         []string `toml:"ignore"`
		BackupDir      string   `toml:"backup_dir"`
		IgnorePatterns []string `toml:"ignore_patterns"`
	} `toml:"files"`
	Backup struct {
		Prune       *bool `toml:"prune"`
		Push        *bool `toml:"push"`
		ScanSecrets *bool `toml:"scan_secrets"`
	} `toml:"backup"`
	Restore Restore `toml:"restore"`
	Hooks   Hooks   `toml:"hooks"`
}

// DefaultPath returns the location of the config file. $SYD_CONFIG takes
// precedence over the XDG config directory.
func DefaultPath() string {
	if p, ok := os.LookupEnv("SYD_CONFIG"); ok && p != "" {
		return p
	}
	if dir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && dir != "" {
		return filepath.Join(dir, name, filename)
	}
	if dir, ok := os.LookupEnv("HOME"); ok {
		return filepath.Join(dir, ".config", name, filename)
	}
	return filename
}

// DefaultRepoPath is where the backup repository lives when the config does
// not name a path.
func DefaultRepoPath() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, name, "repo")
	}
	if dir, ok := os.LookupEnv("HOME"); ok {
		return filepath.Join(dir, ".local", "share", name, "repo")
	}
	return "repo"
}

// Default returns a config with every default applied and nothing tracked.
func Default() *Config {
	c := &Config{Backup: Backup{Push: true, ScanSecrets: true}}
	c.defaults()
	return c
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s", path)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	c, _, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	c.Path = path
	return c, nil
}

// Decode reads a config and normalizes it. When a key is set both in the
// current layout and an older one, the current layout wins.
func Decode(r io.Reader) (*Config, toml.MetaData, error) {
	var raw fileConfig
	md, err := toml.NewDecoder(r).Decode(&raw)
	if err != nil {
		return nil, md, errors.Wrapf(ErrParse, "%v", err)
	}
	c := &Config{
		Repository: raw.Repository,
		Restore:    raw.Restore,
		Hooks:      raw.Hooks,
	}
	repo := &c.Repository
	repo.Remote = first(repo.Remote, raw.Git.Repository)
	repo.Branch = first(repo.Branch, raw.Git.Branch)
	repo.CommitMessage = first(repo.CommitMessage, raw.Git.CommitMessage)
	repo.Path = first(repo.Path, raw.Files.BackupDir)

	paths := make([]string, 0, len(raw.Files.Paths)+len(raw.Paths.Files)+len(raw.Files.Folders)+1)
	paths = append(paths, raw.Files.Paths...)
	paths = append(paths, raw.Files.Folders...)
	if raw.Files.Folder != "" {
		paths = append(paths, raw.Files.Folder)
	}
	paths = append(paths, raw.Paths.Files...)
	c.Files.Paths = dedupe(paths)
	c.Files.Ignore = raw.Files.Ignore
	if len(c.Files.Ignore) == 0 {
		c.Files.Ignore = raw.Files.IgnorePatterns
	}

	c.Backup.Prune = boolOr(raw.Backup.Prune, false)
	c.Backup.Push = boolOr(raw.Backup.Push, true)
	c.Backup.ScanSecrets = boolOr(raw.Backup.ScanSecrets, true)
	c.defaults()

	for _, k := range md.Undecoded() {
		c.Unknown = append(c.Unknown, k.String())
	}
	return c, md, nil
}

func (c *Config) defaults() {
	if c.Repository.Branch == "" {
		c.Repository.Branch = DefaultBranch
	}
	if c.Repository.CommitMessage == "" {
		c.Repository.CommitMessage = DefaultCommitMessage
	}
	if c.Restore.OnConflict == "" {
		c.Restore.OnConflict = ConflictSkip
	}
	if c.Files.Paths == nil {
		c.Files.Paths = []string{}
	}
}

// Validate checks the values that cannot be fixed with a default.
func (c *Config) Validate() error {
	if err := validBranch(c.Repository.Branch); err != nil {
		return err
	}
	if !c.Restore.OnConflict.Valid() {
		return errors.Errorf(
			"invalid on_conflict value %q: must be one of skip, overwrite, backup",
			c.Restore.OnConflict)
	}
	if (c.Repository.User == "") != (c.Repository.Email == "") {
		return errors.New("repository user and email must be set together")
	}
	return nil
}

// RequirePaths returns ErrNoPaths when nothing is tracked.
func (c *Config) RequirePaths() error {
	if len(c.Files.Paths) == 0 {
		return ErrNoPaths
	}
	return nil
}

// RepoPath returns the absolute path of the backup repository.
func (c *Config) RepoPath() (string, error) {
	if c.Repository.Path == "" {
		return DefaultRepoPath(), nil
	}
	return c.Expander().Expand(c.Repository.Path)
}

func (c *Config) Expander() *Expander {
	if c.expander == nil {
		c.expander = NewExpander()
	}
	return c.expander
}

func (c *Config) SetExpander(e *Expander) { c.expander = e }

// Write encodes the config in its current layout, creating parent
// directories as needed.
func (c *Config) Write(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "could not encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Track adds paths to the tracked list. Paths inside the home directory are
// stored as "~/rel". Paths already tracked are ignored.
func (c *Config) Track(paths ...string) (added []string, err error) {
	x := c.Expander()
	have := make(map[string]struct{}, len(c.Files.Paths))
	for _, p := range c.Files.Paths {
		if abs, err := x.Expand(p); err == nil {
			have[abs] = struct{}{}
		}
	}
	for _, p := range paths {
		abs, err := x.Expand(p)
		if err != nil {
			return added, err
		}
		if _, ok := have[abs]; ok {
			continue
		}
		have[abs] = struct{}{}
		entry := x.Contract(abs)
		c.Files.Paths = append(c.Files.Paths, entry)
		added = append(added, entry)
	}
	return added, nil
}

// Untrack removes paths from the tracked list and returns the entries that
// were removed.
func (c *Config) Untrack(paths ...string) (removed []string, err error) {
	x := c.Expander()
	drop := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		abs, err := x.Expand(p)
		if err != nil {
			return nil, err
		}
		drop[abs] = struct{}{}
	}
	kept := c.Files.Paths[:0]
	for _, p := range c.Files.Paths {
		abs, err := x.Expand(p)
		if _, ok := drop[abs]; ok && err == nil {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	c.Files.Paths = kept
	return removed, nil
}

func validBranch(b string) error {
	switch {
	case b == "",
		strings.HasPrefix(b, "-"),
		strings.HasPrefix(b, "/"),
		strings.HasSuffix(b, "/"),
		strings.HasSuffix(b, "."),
		strings.HasSuffix(b, ".lock"),
		strings.Contains(b, ".."),
		strings.Contains(b, "//"),
		strings.Contains(b, "@{"),
		strings.ContainsAny(b, " ~^:?*[\\\t\n"):
		return errors.Errorf("invalid branch name %q", b)
	}
	return nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
