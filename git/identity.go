package git

import (
	"bytes"
	"errors"
	"io"
	"os/exec"
	"strings"
)

// ErrNoIdentity is returned when git would refuse to commit because no
// author or committer identity can be found.
var ErrNoIdentity = errors.New("git user.name and user.email are not configured")

// Identity returns the commit author git would use for this repository. It
// asks git itself so that includes, the system config and the GIT_AUTHOR_*
// and GIT_COMMITTER_* variables are all honored.
func (g *Git) Identity() (name, email string, err error) {
	// a commit needs both idents even though only the author is returned
	if _, _, err = g.ident("GIT_COMMITTER_IDENT"); err != nil {
		return "", "", err
	}
	return g.ident("GIT_AUTHOR_IDENT")
}

func (g *Git) ident(variable string) (name, email string, err error) {
	var cmd *exec.Cmd
	if g.Exists() {
		cmd = g.Cmd("var", variable)
	} else {
		// no repository yet, only the global and system config apply
		args := append(append([]string{}, g.args...), "var", variable)
		cmd = exec.Command(gitExec, args...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = io.Discard
	if err = cmd.Run(); err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return "", "", ErrNoIdentity
		}
		return "", "", err
	}
	name, email, ok := parseIdent(out.String())
	if !ok {
		return "", "", ErrNoIdentity
	}
	return name, email, nil
}

// parseIdent splits "Name <email> 1700000000 +0000".
func parseIdent(s string) (name, email string, ok bool) {
	lt := strings.IndexByte(s, '<')
	gt := strings.LastIndexByte(s, '>')
	if lt < 0 || gt < lt {
		return "", "", false
	}
	return strings.TrimSpace(s[:lt]), s[lt+1 : gt], true
}
