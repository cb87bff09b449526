package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	cobradoc "github.com/spf13/cobra/doc"

	"github.com/harrybrwn/syd/cli"
	"github.com/harrybrwn/syd/git"
)

type ShellType string

const (
	Bash       ShellType = "bash"
	Zsh        ShellType = "zsh"
	Fish       ShellType = "fish"
	Powershell ShellType = "powershell"
)

const (
	DefaultReleaseDir = "release"
	ChecksumsFile     = "checksums.txt"
)

type Flags struct {
	Name       string
	ReleaseDir string
	Checksums  string

	// Packaging flags
	deb         bool
	version     string
	packageDir  string
	description string
}

func (f *Flags) install(flag *flag.FlagSet) {
	flag.StringVar(&f.ReleaseDir, "release", DefaultReleaseDir, "specify the release directory")
	flag.StringVar(&f.Name, "name", "syd", "specify the program name (will effect completion scripts and man page file names)")
	flag.StringVar(&f.Checksums, "checksums", f.Checksums, "write "+ChecksumsFile+" for every release artifact in this directory and exit")
	flag.StringVar(&f.version, "version", cli.Version, "give the release a version")
	flag.StringVar(&f.packageDir, "package", f.packageDir, "directory that the debian package is being built from")
	flag.BoolVar(&f.deb, "deb", f.deb, "generate files for a debian package")
	flag.StringVar(&f.description, "description", f.description, "debian package description")
	flag.Parse(os.Args[1:])
}

func (f *Flags) validate() error {
	if len(f.version) == 0 {
		return errors.New("no version given")
	} else if f.version[0] == 'v' {
		f.version = f.version[1:]
	}
	return nil
}

func (f *Flags) hasPackageDir() bool {
	return len(f.packageDir) != 0 && exists(f.packageDir)
}

func main() {
	var flags Flags
	flags.install(flag.CommandLine)
	if flags.Checksums != "" {
		if err := writeChecksums(flags.Checksums); err != nil {
			log.Fatal(err)
		}
		return
	}
	if flags.Name == "" {
		fail("Error: no -name flag specified")
	}

	completionDir := filepath.Join(flags.ReleaseDir, "completion")
	manDir := filepath.Join(flags.ReleaseDir, "man")

	cmd := cli.NewRootCmd()
	cmd.DisableAutoGenTag = true
	cmd.CompletionOptions.DisableDefaultCmd = false

	if flags.deb {
		if err := flags.validate(); err != nil {
			log.Fatal(errors.Wrap(err, "flag validation failed"))
		}
		if !flags.hasPackageDir() {
			fail("use '-package' flag for the package directory")
		}
		if err := writeControl(&flags); err != nil {
			log.Fatal(err)
		}
		manDir = filepath.Join(flags.packageDir, "usr", "share", "man", "man1")
		for _, shell := range []ShellType{Bash, Zsh, Fish} {
			d := filepath.Join(flags.packageDir, findCompletionDir(shell))
			if err := genComp(cmd, d, shell, flags.Name); err != nil {
				log.Fatal(err)
			}
		}
	} else {
		for _, shell := range []ShellType{Bash, Zsh, Fish, Powershell} {
			if err := genComp(cmd, completionDir, shell, flags.Name); err != nil {
				log.Fatal(err)
			}
		}
	}

	if err := os.MkdirAll(manDir, 0755); err != nil {
		log.Fatal(err)
	}
	err := cobradoc.GenManTree(cmd, &cobradoc.GenManHeader{Section: "1"}, manDir)
	if err != nil {
		log.Fatal(err)
	}
}

func fail(msg string) {
	fmt.Fprintf(os.Stderr, "%s\n", msg)
	os.Exit(1)
}

// writeChecksums writes a sha256sum compatible list of every regular file in
// dir.
func writeChecksums(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == ChecksumsFile {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		sum, err := sha256File(filepath.Join(dir, name))
		if err != nil {
			return errors.Wrapf(err, "could not hash %s", name)
		}
		fmt.Fprintf(&b, "%s  %s\n", sum, name)
	}
	return os.WriteFile(filepath.Join(dir, ChecksumsFile), []byte(b.String()), 0644)
}

func sha256File(name string) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err = io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeControl(flags *Flags) error {
	maintainer, err := maintainer()
	if err != nil {
		return err
	}
	for _, d := range [][]string{{"DEBIAN"}, {"usr", "bin"}} {
		if err = os.MkdirAll(filepath.Join(append([]string{flags.packageDir}, d...)...), 0755); err != nil {
			return err
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Package: %s\n", flags.Name)
	fmt.Fprintf(&b, "Version: %s\n", flags.version)
	fmt.Fprintf(&b, "Architecture: %s\n", runtime.GOARCH)
	b.WriteString("Depends: git\nPriority: optional\n")
	if flags.description != "" {
		fmt.Fprintf(&b, "Description: %s\n", flags.description)
	}
	if maintainer != "" {
		fmt.Fprintf(&b, "Maintainer: %s\n", maintainer)
	}
	return os.WriteFile(filepath.Join(flags.packageDir, "DEBIAN", "control"), []byte(b.String()), 0644)
}

func genComp(cmd *cobra.Command, dir string, shell ShellType, prog string) error {
	var (
		name = completionScriptName(shell, prog)
		p    = filepath.Join(dir, string(shell))
	)
	if err := os.MkdirAll(p, 0755); err != nil {
		return errors.Wrapf(err, "could not create completion directory %q", p)
	}
	f, err := os.OpenFile(filepath.Join(p, name), os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open completion script file")
	}
	defer f.Close()
	gen := completionGenFunc(cmd, shell)
	return gen(f)
}

func completionGenFunc(cmd *cobra.Command, shell ShellType) func(io.Writer) error {
	switch shell {
	case Bash:
		return func(w io.Writer) error { return cmd.GenBashCompletionV2(w, true) }
	case Fish:
		return func(w io.Writer) error { return cmd.GenFishCompletion(w, true) }
	case Zsh:
		return cmd.GenZshCompletion
	case Powershell:
		return cmd.GenPowerShellCompletion
	default:
		panic("unknown shell type")
	}
}

func findCompletionDir(shell ShellType) string {
	switch shell {
	case Bash:
		return "/usr/share/bash-completion/completions"
	case Zsh:
		return "/usr/share/zsh/vendor-completions"
	case Fish:
		return "/usr/share/fish/completions"
	default:
		return ""
	}
}

func completionScriptName(shell ShellType, name string) string {
	switch shell {
	case Bash:
		return name
	case Zsh:
		return "_" + name
	case Fish:
		return name + ".fish"
	default:
		return name
	}
}

// maintainer uses the global git identity.
func maintainer() (string, error) {
	name, email, err := git.Open(".").Identity()
	if err != nil && !errors.Is(err, git.ErrNoIdentity) {
		return "", err
	}
	switch {
	case name == "":
		return "", nil
	case email == "":
		return name, nil
	}
	return fmt.Sprintf("%s <%s>", name, email), nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return !os.IsNotExist(err)
}
