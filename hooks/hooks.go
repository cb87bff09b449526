// Package hooks runs the user commands configured around backup and restore.
package hooks

import (
	"context"
	"io"
	"os"
	"os/exec"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Stage string

const (
	PreBackup   Stage = "pre_backup"
	PostBackup  Stage = "post_backup"
	PreRestore  Stage = "pre_restore"
	PostRestore Stage = "post_restore"
)

// Runner executes hook command lines without a shell. Each line is split
// into words with environment variables expanded.
type Runner struct {
	Repo   string // exported to hooks as SYD_REPO
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	Log    *zap.Logger
}

// Run executes commands in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context, stage Stage, commands []string) error {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	for _, line := range commands {
		args, err := parse(line)
		if err != nil {
			return errors.Wrapf(err, "%s hook %q", stage, line)
		}
		if len(args) == 0 {
			continue
		}
		log.Debug("running hook", zap.String("stage", string(stage)), zap.Strings("args", args))
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = r.Dir
		cmd.Stdout = r.Stdout
		cmd.Stderr = r.Stderr
		cmd.Env = append(os.Environ(),
			"SYD_STAGE="+string(stage),
			"SYD_REPO="+r.Repo,
		)
		if err = cmd.Run(); err != nil {
			return errors.Wrapf(err, "%s hook %q failed", stage, line)
		}
	}
	return nil
}

func parse(line string) ([]string, error) {
	p := shellwords.NewParser()
	p.ParseEnv = true
	return p.Parse(line)
}
