package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harrybrwn/syd/registry"
	"github.com/harrybrwn/syd/secrets"
)

func NewAddCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path...>",
		Short: "Start tracking files or directories",
		Long: `Add paths to the tracked list in the config file. Nothing is copied
until the next backup.`,
		Example: "$ syd add ~/.bashrc ~/.config/nvim",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.Config()
			if err != nil {
				return err
			}
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			added, err := conf.Track(paths...)
			if err != nil {
				return err
			}
			// reject paths that cannot be mapped into the repository
			if _, err = registry.FromConfig(conf); err != nil {
				return err
			}
			if err = conf.Write(conf.Path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			x := conf.Expander()
			for _, p := range added {
				if abs, err := x.Expand(p); err == nil && !exists(abs) {
					opts.Logger().Warn("tracked path does not exist yet", zap.String("path", abs))
				}
				fmt.Fprintf(out, "tracking %s\n", p)
			}
			if len(added) == 0 {
				fmt.Fprintln(out, "already tracked")
			}
			return nil
		},
	}
}

func NewRemoveCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <path...>",
		Aliases: []string{"remove"},
		Short:   "Stop tracking files",
		Long: `Remove paths from the tracked list in the config file. Files on disk
and in the repository are left alone, use 'syd backup --prune' to delete them
from the repository.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.Config()
			if err != nil {
				return err
			}
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			removed, err := conf.Untrack(paths...)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				return errors.Errorf("%s: not tracked", args[0])
			}
			if err = conf.Write(conf.Path); err != nil {
				return err
			}
			for _, p := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "no longer tracking %s\n", p)
			}
			return nil
		},
		ValidArgsFunction: trackedCompletion(opts),
	}
}

func NewScanCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Look for secrets in the tracked files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err = s.conf.RequirePaths(); err != nil {
				return err
			}
			entries, err := s.reg.Resolve()
			if err != nil {
				return err
			}
			scanner, err := secrets.NewScanner()
			if err != nil {
				return err
			}
			if err = scanner.LoadIgnore(filepath.Join(s.git.WorkingTree(), secrets.IgnoreFile)); err != nil {
				return err
			}
			var findings []secrets.Finding
			for _, e := range entries {
				if e.Missing {
					continue
				}
				content, err := os.ReadFile(e.Source)
				if err != nil {
					return err
				}
				findings = append(findings, scanner.Scan(e.RepoPath, content)...)
			}
			out := cmd.OutOrStdout()
			if len(findings) == 0 {
				fmt.Fprintf(out, "No secrets found in %d files.\n", len(entries))
				return nil
			}
			printFindings(out, newStyles(out, opts.NoColor()), findings)
			return errors.Errorf("found %d secret(s)", len(findings))
		},
	}
}

type completeFunc func(
	_ *cobra.Command,
	_ []string,
	toComplete string,
) ([]string, cobra.ShellCompDirective)

// trackedCompletion completes the paths listed in the config.
func trackedCompletion(opts *Options) completeFunc {
	return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		conf, err := opts.Config()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		return conf.Files.Paths, cobra.ShellCompDirectiveDefault
	}
}

// repoFilesCompletion completes the files committed to the repository.
func repoFilesCompletion(opts *Options) completeFunc {
	return func(cmd *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		s, err := opts.session(cmd)
		if err != nil || !s.git.Exists() {
			return nil, cobra.ShellCompDirectiveError
		}
		files, err := s.git.LsFiles()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		return files, cobra.ShellCompDirectiveNoFileComp
	}
}
