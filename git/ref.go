package git

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Ref string

func (ref Ref) IsHash() bool {
	dec, err := hex.DecodeString(string(ref))
	if err == nil && len(dec) == HashSize {
		return true
	}
	return false
}

// Resolve follows symbolic references until it reaches an object id. Loose
// refs are read first and packed-refs second, the same order git uses.
func (ref Ref) Resolve(g *Git) (Ref, error) {
	const maxDepth = 10
	r := ref
	for i := 0; i < maxDepth; i++ {
		if r.IsHash() {
			return r, nil
		}
		next, err := readRef(filepath.Join(g.gitDir, string(r)))
		switch {
		case err == nil:
			r = next
			continue
		case !os.IsNotExist(err):
			return "", err
		}
		next, err = readPackedRef(filepath.Join(g.gitDir, "packed-refs"), string(r))
		if err != nil {
			return "", err
		}
		r = next
	}
	return "", fmt.Errorf("%w: %s: too many levels of symbolic refs", ErrUnknownRef, ref)
}

func readRef(filename string) (Ref, error) {
	all, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	if ix := bytes.Index(all, []byte("ref:")); ix >= 0 {
		all = all[ix+4:]
	}
	all = bytes.Trim(all, " \t\r\n")
	return Ref(all), nil
}

func readPackedRef(filename, name string) (Ref, error) {
	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrUnknownRef, name)
	} else if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if len(line) == 0 || line[0] == '#' || line[0] == '^' {
			continue
		}
		hash, refname, ok := strings.Cut(line, " ")
		if ok && refname == name {
			return Ref(hash), nil
		}
	}
	if err = sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownRef, name)
}
