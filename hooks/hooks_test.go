package hooks

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestRun(t *testing.T) {
	is := is.New(t)
	var out bytes.Buffer
	r := Runner{Repo: "/tmp/repo", Stdout: &out, Stderr: &out}
	t.Setenv("SYD_HOOK_TEST", "expanded")
	err := r.Run(context.Background(), PostBackup, []string{
		`echo "hello world" $SYD_HOOK_TEST`,
		"",
		"printenv SYD_STAGE SYD_REPO",
	})
	is.NoErr(err)
	is.Equal(out.String(), "hello world expanded\npost_backup\n/tmp/repo\n")
}

func TestRunFailure(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	r := Runner{Dir: dir}
	err := r.Run(context.Background(), PreRestore, []string{"false", "touch " + marker})
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "pre_restore"))
	_, err = os.Stat(marker)
	is.True(os.IsNotExist(err)) // later hooks should not run

	err = r.Run(context.Background(), PreBackup, []string{`echo "unterminated`})
	is.True(err != nil)
	err = r.Run(context.Background(), PreBackup, []string{"syd-hook-does-not-exist"})
	is.True(err != nil)
}
