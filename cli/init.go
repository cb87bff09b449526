package cli

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/harrybrwn/syd/config"
	"github.com/harrybrwn/syd/remote"
)

type initFlags struct {
	remote string
	branch string
	path   string
	force  bool
}

func NewInitCmd(opts *Options) *cobra.Command {
	var flags initFlags
	c := &cobra.Command{
		Use:   "init",
		Short: "Create the config file and the backup repository",
		Long: `Write a config file when there is none and set up the backup repository.
When a remote is given the repository is cloned from it, otherwise an empty
repository is created.`,
		Example: "$ syd init --remote git@github.com:me/dotfiles.git",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeInitConfig(cmd, opts, &flags); err != nil {
				return err
			}
			s, err := opts.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			created, err := s.remote.CloneOrInit(cmd.Context(), s.git)
			if err != nil {
				return err
			}
			// only the files syd copies in should show up in git status
			if err = s.git.ConfigLocalSet("status.showUntrackedFiles", "no"); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case !created:
				fmt.Fprintf(out, "Repository already exists at %s\n", s.git.WorkingTree())
			case s.git.HasRemote():
				fmt.Fprintf(out, "Cloned %s into %s\n", s.remote.Origin(), s.git.WorkingTree())
			default:
				fmt.Fprintf(out, "Initialized empty repository in %s\n", s.git.WorkingTree())
			}
			if len(s.conf.Files.Paths) == 0 {
				fmt.Fprintf(out, "Start tracking files with '%s add <path>'.\n", name)
			}
			return nil
		},
	}
	f := c.Flags()
	f.StringVarP(&flags.remote, "remote", "r", flags.remote, "url of the remote repository")
	f.StringVarP(&flags.branch, "branch", "b", flags.branch, "branch to commit to")
	f.StringVarP(&flags.path, "path", "p", flags.path, "location of the backup repository")
	f.BoolVarP(&flags.force, "force", "f", flags.force, "overwrite an existing config file")
	return c
}

// writeInitConfig writes a new config file. An existing file is only
// replaced with --force or when the user agrees to it.
func writeInitConfig(cmd *cobra.Command, opts *Options, flags *initFlags) error {
	changed := cmd.Flags().Changed("remote") || cmd.Flags().Changed("branch") || cmd.Flags().Changed("path")
	if exists(opts.ConfigPath) {
		if !changed && !flags.force {
			return nil
		}
		if !flags.force && !confirm(cmd, fmt.Sprintf("Would you like to overwrite %q", opts.ConfigPath)) {
			return errors.Errorf("%q already exists, use --force to overwrite it", opts.ConfigPath)
		}
	}
	conf := config.Default()
	if old, err := config.Load(opts.ConfigPath); err == nil {
		// keep the tracked files when rewriting the repository settings
		conf.Files = old.Files
		conf.Hooks = old.Hooks
	}
	if flags.remote != "" {
		conf.Repository.Remote = flags.remote
	}
	if flags.branch != "" {
		conf.Repository.Branch = flags.branch
	}
	if flags.path != "" {
		p, err := absPaths([]string{flags.path})
		if err != nil {
			return err
		}
		conf.Repository.Path = p[0]
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	if err := conf.Write(opts.ConfigPath); err != nil {
		return errors.Wrap(err, "could not write config")
	}
	opts.conf = nil
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote config to %s\n", opts.ConfigPath)
	return nil
}

func confirm(cmd *cobra.Command, prompt string) bool {
	in, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(in.Fd())) {
		return false
	}
	return yesOrNo(in, cmd.OutOrStdout(), prompt)
}

func NewSyncCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync with the remote repository",
		Long:  "Fast-forward the backup repository to the remote branch and push local commits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if !s.remote.HasRemote() {
				return remote.ErrNoRemote
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if !s.git.Exists() {
				if err = s.remote.Clone(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "Cloned %s into %s\n", s.remote.Origin(), s.git.WorkingTree())
				return nil
			}
			pulled, err := s.remote.Pull(ctx, s.git)
			if err != nil {
				return err
			}
			if pulled {
				fmt.Fprintln(out, "Pulled new changes from the remote.")
			}
			head, err := s.git.HeadCommit()
			if err != nil || head == "" {
				return err
			}
			ahead, _, err := s.git.AheadBehind(s.remote.RemoteRef())
			if err == nil && ahead == 0 {
				if !pulled {
					fmt.Fprintln(out, "Already up to date.")
				}
				return nil
			}
			if err = s.remote.Push(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "Pushed to %s.\n", s.remote.Origin())
			return nil
		},
	}
}
