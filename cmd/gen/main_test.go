package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"

	"github.com/harrybrwn/syd/cli"
)

func TestWriteChecksums(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	is.NoErr(os.WriteFile(filepath.Join(dir, "syd-linux-x86_64"), []byte("abc"), 0755))
	is.NoErr(os.WriteFile(filepath.Join(dir, "syd-windows-x86_64.exe"), nil, 0644))
	is.NoErr(os.Mkdir(filepath.Join(dir, "man"), 0755))
	is.NoErr(writeChecksums(dir))
	b, err := os.ReadFile(filepath.Join(dir, ChecksumsFile))
	is.NoErr(err)
	is.Equal(string(b), ""+
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad  syd-linux-x86_64\n"+
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855  syd-windows-x86_64.exe\n")

	// running it again does not hash the old list
	is.NoErr(writeChecksums(dir))
	again, err := os.ReadFile(filepath.Join(dir, ChecksumsFile))
	is.NoErr(err)
	is.Equal(again, b)
}

func TestCompletionScriptName(t *testing.T) {
	is := is.New(t)
	is.Equal(completionScriptName(Bash, "syd"), "syd")
	is.Equal(completionScriptName(Zsh, "syd"), "_syd")
	is.Equal(completionScriptName(Fish, "syd"), "syd.fish")
	root := cli.NewRootCmd()
	for _, shell := range []ShellType{Bash, Zsh, Fish, Powershell} {
		var buf bytes.Buffer
		is.NoErr(completionGenFunc(root, shell)(&buf))
		is.True(buf.Len() > 0)
	}
}
