package git

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	gitExec = "git"

	DefaultBranch = "main"
)

// ErrUnknownRef is returned when a reference cannot be resolved.
var ErrUnknownRef = errors.New("unknown reference")

func New(dir, tree string) *Git {
	return &Git{
		gitDir:   dir,
		workTree: tree,
	}
}

// Open returns a Git for a regular (non-bare) repository rooted at dir.
func Open(dir string) *Git {
	return New(filepath.Join(dir, ".git"), dir)
}

type Git struct {
	gitDir         string // --git-dir
	workTree       string // --work-tree
	args           []string
	stdout, stderr io.Writer
	stdin          io.Reader
}

func (g *Git) Cmd(args ...string) *exec.Cmd {
	arguments := make([]string, 4, 4+len(args)+len(g.args))
	arguments[0] = "--git-dir"
	arguments[1] = g.gitDir
	arguments[2] = "--work-tree"
	arguments[3] = g.workTree
	arguments = append(arguments, g.args...)
	arguments = append(arguments, args...)
	cmd := exec.Command(gitExec, arguments...)
	if exists(g.workTree) {
		// pathspecs are given relative to the root of the work tree
		cmd.Dir = g.workTree
	}
	g.setDefaultIO(cmd)
	return cmd
}

func (g *Git) RunCmd(args ...string) error { return run(g.Cmd(args...)) }

// Output runs a git command and returns its standard output.
func (g *Git) Output(args ...string) ([]byte, error) {
	var (
		buf bytes.Buffer
		cmd = g.Cmd(args...)
	)
	cmd.Stdout = &buf
	if err := run(cmd); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Git) Exists() bool {
	return exists(g.gitDir) && isGitDir(g.gitDir)
}

// Init will create a new repository with HEAD pointing at the given branch.
// Equivalent to `git init --initial-branch <branch>`.
func (g *Git) Init(branch string) error { return initRepo(g.gitDir, branch, false) }

// InitBare will create a new bare repo. Equivalent to `git init --bare`.
func (g *Git) InitBare(branch string) error { return initRepo(g.gitDir, branch, true) }

// WorkingTree will return the repositories working tree.
func (g *Git) WorkingTree() string { return g.workTree }

// GitDir will return the git directory.
func (g *Git) GitDir() string { return g.gitDir }

func (g *Git) SetWorkingTree(path string) { g.workTree = path }

// SetPersistentArgs will set an array of arguments passed internally to the git
// command whenever the Cmd function is called.
func (g *Git) SetPersistentArgs(args []string) { g.args = args }

// AppendPersistentArgs will append to the array of arguments passed internally
// to the git command whenever the Cmd function is called.
func (g *Git) AppendPersistentArgs(args ...string) { g.args = append(g.args, args...) }

// SetIdentity makes every following command run with the given commit
// identity. Empty values are left to git's own configuration.
func (g *Git) SetIdentity(name, email string) {
	if name != "" {
		g.AppendPersistentArgs("-c", fmt.Sprintf("user.name=%s", name))
	}
	if email != "" {
		g.AppendPersistentArgs("-c", fmt.Sprintf("user.email=%s", email))
	}
}

func (g *Git) Add(paths ...string) error {
	if len(paths) == 0 {
		return errors.New("no paths to add")
	}
	return run(g.Cmd(append([]string{"add", "--"}, paths...)...))
}

func (g *Git) Remove(files ...string) error {
	if len(files) == 0 {
		return errors.New("no files to remove")
	}
	args := []string{"rm", "--quiet", "--"}
	args = append(args, files...)
	return run(g.Cmd(args...))
}

func (g *Git) Commit(message string) error {
	return run(g.Cmd("commit", "--quiet", "-m", message))
}

// HasStaged reports whether the index differs from HEAD.
func (g *Git) HasStaged() (bool, error) {
	head, err := g.HeadCommit()
	if err != nil {
		return false, err
	}
	if head == "" {
		files, err := g.Output("ls-files", "--cached")
		if err != nil {
			return false, err
		}
		return len(bytes.TrimSpace(files)) > 0, nil
	}
	err = run(g.Cmd("diff-index", "--cached", "--quiet", "HEAD", "--"))
	if err == nil {
		return false, nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) && exit.ExitCode() == 1 {
		return true, nil
	}
	return false, err
}

func (g *Git) LsFiles() ([]string, error) {
	head, err := g.HeadCommit()
	if err != nil {
		return nil, err
	}
	if head == "" {
		return []string{}, nil
	}
	out, err := g.Output("ls-tree", "-z", "--full-tree", "-r", "--name-only", "HEAD")
	if err != nil {
		return nil, err
	}
	return splitNul(out), nil
}

// Files lists every blob in the HEAD tree. An unborn branch has no files.
func (g *Git) Files() ([]*Object, error) {
	head, err := g.HeadCommit()
	if err != nil {
		return nil, err
	}
	if head == "" {
		return []*Object{}, nil
	}
	out, err := g.Output("ls-tree", "-z", "HEAD", "-r", "--long", "--full-tree")
	if err != nil {
		return nil, err
	}
	return parseLsTree(bytes.NewReader(out))
}

func parseLsTree(r io.Reader) ([]*Object, error) {
	var (
		err    error
		i, j   int
		fields [4]string
		sc     = bufio.NewScanner(r)
		files  = make([]*Object, 0)
	)
	sc.Split(scanNul)
	for sc.Scan() {
		var (
			line = sc.Text()
			f    Object
		)
		i = strings.IndexByte(line, '\t')
		if i < 0 {
			return nil, fmt.Errorf("malformed ls-tree line %q", line)
		}
		f.Name = line[i+1:]
		j = 0
		for _, s := range strings.Split(line[:i], " ") {
			if len(s) == 0 {
				continue
			}
			if j == len(fields) {
				return nil, fmt.Errorf("malformed ls-tree line %q", line)
			}
			fields[j] = s
			j++
		}
		if j < 3 {
			return nil, fmt.Errorf("malformed ls-tree line %q", line)
		}
		f.Mode, err = parseMode(fields[0])
		if err != nil {
			return nil, err
		}
		f.Type = objectType(fields[1])
		f.Hash = fields[2]
		if f.Type == ObjBlob && j == 4 {
			f.Size, err = strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				return nil, err
			}
		}
		files = append(files, &f)
	}
	return files, sc.Err()
}

// CatFile returns the contents of a blob object.
func (g *Git) CatFile(hash string) ([]byte, error) {
	return g.Output("cat-file", "blob", hash)
}

// Status counts the modified (tracked) and untracked paths in the working
// tree.
func (g *Git) Status() (modified, untracked int, err error) {
	out, err := g.Output("status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return 0, 0, err
	}
	for _, l := range lines(string(out)) {
		if strings.HasPrefix(l, "??") {
			untracked++
		} else {
			modified++
		}
	}
	return modified, untracked, nil
}

func parseMode(s string) (int, error) {
	m, err := strconv.ParseUint(s, 8, 64)
	if err != nil {
		return 0, err
	}
	return int(m), nil
}

func (g *Git) HasRemote() bool {
	out, err := g.Output("remote")
	if err != nil {
		return false
	}
	return len(bytes.TrimSpace(out)) > 0
}

// RemoteURL returns the url configured for the named remote.
func (g *Git) RemoteURL(name string) (string, error) {
	out, err := g.Output("config", "--get", fmt.Sprintf("remote.%s.url", name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// RefExists reports whether a ref resolves to a commit.
func (g *Git) RefExists(ref string) bool {
	return run(g.Cmd("rev-parse", "--verify", "--quiet", ref+"^{commit}")) == nil
}

// AheadBehind counts the commits HEAD has that ref does not (ahead) and the
// commits ref has that HEAD does not (behind).
func (g *Git) AheadBehind(ref string) (ahead, behind int, err error) {
	if !g.RefExists(ref) {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	head, err := g.HeadCommit()
	if err != nil {
		return 0, 0, err
	}
	if head == "" {
		out, err := g.Output("rev-list", "--count", ref)
		if err != nil {
			return 0, 0, err
		}
		behind, err = strconv.Atoi(strings.TrimSpace(string(out)))
		return 0, behind, err
	}
	out, err := g.Output("rev-list", "--left-right", "--count", "HEAD..."+ref)
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Fields(string(out))
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	if ahead, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, err
	}
	if behind, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

// FastForward moves the current branch to ref and updates the working tree.
// It fails if the branch cannot be fast-forwarded.
func (g *Git) FastForward(ref string) error {
	head, err := g.HeadCommit()
	if err != nil {
		return err
	}
	if head == "" {
		// unborn branch, there is nothing to merge into
		return run(g.Cmd("reset", "--quiet", "--hard", ref))
	}
	return run(g.Cmd("merge", "--quiet", "--ff-only", ref))
}

type Config map[string]interface{}

func (g *Git) ConfigLocal() (Config, error) {
	return g.config("--local", "--list")
}

func (g *Git) ConfigLocalSet(key, value string) error {
	return run(g.Cmd("config", "--local", key, value))
}

func (c Config) Exists(key string) bool {
	_, ok := c[key]
	return ok
}

func (g *Git) SetOut(out io.Writer) { g.stdout = out }
func (g *Git) SetErr(w io.Writer)   { g.stderr = w }

func (g *Git) config(flags ...string) (Config, error) {
	var (
		m    = make(Config)
		args = make([]string, 1+len(flags))
	)
	args[0] = "config"
	for i := 0; i < len(flags); i++ {
		args[i+1] = flags[i]
	}
	out, err := g.Output(args...)
	if err != nil {
		return nil, err
	}
	for _, l := range strings.Split(string(out), "\n") {
		parts := strings.SplitN(l, "=", 2)
		if len(parts) < 2 {
			continue
		}
		m[parts[0]] = parts[1]
	}
	return m, nil
}

func (g *Git) CurrentBranch() (string, error) {
	b, err := os.ReadFile(filepath.Join(g.gitDir, "HEAD"))
	if err != nil {
		return "", err
	}
	b = bytes.TrimRight(b, "\r\n")
	if bytes.HasPrefix(b, []byte("ref: ")) {
		b = bytes.TrimPrefix(b, []byte("ref: "))
		return strings.TrimPrefix(string(b), "refs/heads/"), nil
	}
	return string(b), nil
}

// HeadCommit returns the commit hash HEAD points to or an empty string if the
// current branch has no commits yet.
func (g *Git) HeadCommit() (string, error) {
	ref, err := Ref("HEAD").Resolve(g)
	switch {
	case err == nil:
		return string(ref), nil
	case errors.Is(err, ErrUnknownRef):
		return "", nil
	default:
		return "", err
	}
}

func splitNul(b []byte) []string {
	parts := bytes.Split(b, []byte{0})
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) > 0 {
			names = append(names, string(p))
		}
	}
	return names
}

// scanNul is a bufio.SplitFunc for NUL terminated records.
func scanNul(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func lines(s string) []string {
	sp := strings.Split(s, "\n")
	lines := make([]string, 0, len(sp))
	for _, f := range sp {
		f = strings.TrimRight(f, "\r\n")
		if len(f) == 0 {
			continue
		}
		lines = append(lines, f)
	}
	return lines
}

func initRepo(path, branch string, bare bool) error {
	if branch == "" {
		branch = DefaultBranch
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	err := writeToFile(filepath.Join(path, "HEAD"), fmt.Sprintf("ref: refs/heads/%s\n", branch))
	if err != nil {
		return err
	}
	err = writeToFile(filepath.Join(path, "config"), fmt.Sprintf(`[core]
	repositoryformatversion = 0
	filemode = true
	bare = %t
	logallrefupdates = %t
`, bare, !bare))
	if err != nil {
		return err
	}
	for _, p := range []string{
		"hooks",
		"info",
		"objects",
		"objects/info",
		"objects/pack",
		"refs",
		"refs/heads",
		"refs/tags",
	} {
		err = os.MkdirAll(filepath.Join(path, p), 0755)
		if err != nil {
			return err
		}
	}
	err = writeToFile(filepath.Join(path, "description"), "Unnamed repository; edit this file 'description' to name the repository.\n")
	if err != nil {
		return err
	}
	return writeToFile(filepath.Join(path, "info", "exclude"), "# git ls-files --others --exclude-from=.git/info/exclude\n")
}

func isGitDir(dir string) bool {
	return exists(filepath.Join(dir, "refs")) &&
		exists(filepath.Join(dir, "objects")) &&
		exists(filepath.Join(dir, "HEAD"))
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return !os.IsNotExist(err)
}

func writeToFile(filename string, data string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(data))
	return err
}

func (g *Git) setDefaultIO(cmd *exec.Cmd) {
	cmd.Stdout = g.stdout
	cmd.Stderr = g.stderr
	cmd.Stdin = g.stdin
}

func run(cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		msg := strings.Trim(stderr.String(), "\n")
		if len(msg) == 0 {
			return err
		}
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}
