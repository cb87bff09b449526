// Package fsutil has the file helpers shared by backup and restore.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFile atomically replaces name with the contents of r. The data is
// written to a temporary file in the same directory which is then renamed
// over name. Missing parent directories are created with mode 0755.
func WriteFile(name string, r io.Reader, perm fs.FileMode) (err error) {
	dir := filepath.Dir(name)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".syd-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), name); err != nil {
		return errors.Wrapf(err, "could not replace %s", name)
	}
	return nil
}

// CopyFile atomically copies src to dst.
func CopyFile(src, dst string, perm fs.FileMode) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteFile(dst, f, perm)
}

// Exists reports whether p exists. Broken symlinks count as existing.
func Exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
