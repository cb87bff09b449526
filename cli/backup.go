package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/harrybrwn/syd/secrets"
	"github.com/harrybrwn/syd/snapshot"
)

type backupFlags struct {
	dryRun       bool
	noPush       bool
	noPull       bool
	allowSecrets bool
	prune        bool
	message      string
}

func NewBackupCmd(opts *Options) *cobra.Command {
	var flags backupFlags
	c := &cobra.Command{
		Use:   "backup",
		Short: "Copy tracked files into the repository and commit them",
		Long: `Copy every tracked file into the backup repository, commit whatever
changed and push the commit when a remote is configured.`,
		Example: "$ syd backup\n" +
			"\t$ syd backup --dry-run\n" +
			"\t$ syd backup -m 'new shell prompt' --no-push",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err = s.conf.RequirePaths(); err != nil {
				return err
			}
			return backup(cmd, opts, s, &flags)
		},
	}
	f := c.Flags()
	f.BoolVarP(&flags.dryRun, "dry-run", "n", flags.dryRun, "show what would be backed up without writing anything")
	f.BoolVar(&flags.noPush, "no-push", flags.noPush, "commit locally without pushing")
	f.BoolVar(&flags.noPull, "no-pull", flags.noPull, "do not update from the remote before the backup")
	f.BoolVar(&flags.allowSecrets, "allow-secrets", flags.allowSecrets, "commit files even if secrets were found in them")
	f.BoolVar(&flags.prune, "prune", flags.prune, "remove files from the repository that are no longer tracked")
	f.StringVarP(&flags.message, "message", "m", flags.message, "commit message")
	return c
}

func backup(cmd *cobra.Command, opts *Options, s *session, flags *backupFlags) error {
	conf := s.conf
	eng := snapshot.Engine{
		Git:      s.git,
		Registry: s.reg,
		Remote:   s.remote,
		Hooks:    s.hooks,
		Log:      s.log,
	}
	// a dry run reads the state but never creates it
	if !flags.dryRun || exists(s.statePath) {
		st, err := s.openState()
		if err != nil {
			return err
		}
		eng.State = st
	}
	if conf.Backup.ScanSecrets {
		scanner, err := secrets.NewScanner()
		if err != nil {
			return err
		}
		if err = scanner.LoadIgnore(filepath.Join(s.git.WorkingTree(), secrets.IgnoreFile)); err != nil {
			return err
		}
		eng.Scanner = scanner
	}
	bar := newProgressBar(cmd.ErrOrStderr(), opts.NoColor())
	if bar != nil {
		eng.Progress = bar.update
	}
	message := flags.message
	if message == "" {
		message = conf.Repository.CommitMessage
	}
	res, err := eng.Backup(cmd.Context(), snapshot.Options{
		Message:      message,
		User:         conf.Repository.User,
		Email:        conf.Repository.Email,
		DryRun:       flags.dryRun,
		Prune:        flags.prune || conf.Backup.Prune,
		Pull:         !flags.noPull,
		Push:         conf.Backup.Push && !flags.noPush,
		AllowSecrets: flags.allowSecrets,
		PreHooks:     conf.Hooks.PreBackup,
		PostHooks:    conf.Hooks.PostBackup,
	})
	bar.finish()
	out := cmd.OutOrStdout()
	st := newStyles(out, opts.NoColor())
	if res != nil && len(res.Findings) > 0 {
		printFindings(out, st, res.Findings)
		if errors.Is(err, snapshot.ErrSecretsFound) {
			fmt.Fprintf(out, "\nUse --allow-secrets to back up anyway or list the fingerprints in %s.\n", secrets.IgnoreFile)
		}
	}
	if err != nil {
		return err
	}
	printBackup(out, st, res, flags.dryRun, s.remote.Origin())
	return nil
}

func printBackup(out io.Writer, st *styles, res *snapshot.Result, dryRun bool, origin string) {
	for _, group := range []struct {
		mark  string
		files []string
	}{
		{markAdded, res.Added},
		{markModified, res.Modified},
		{markRemoved, res.Removed},
		{markMissing, res.Missing},
		{markBehind, res.Behind},
	} {
		for _, f := range group.files {
			fmt.Fprintf(out, "%s %s\n", st.marker(group.mark), f)
		}
	}
	if len(res.Behind) > 0 {
		fmt.Fprintf(out, "%d files have newer versions in the repository, run '%s restore' to update them.\n",
			len(res.Behind), name)
	}
	if res.Pulled {
		fmt.Fprintln(out, "Pulled new changes from the remote.")
	}
	summary := fmt.Sprintf("%d added, %d modified, %d removed, %d unchanged",
		len(res.Added), len(res.Modified), len(res.Removed), len(res.Unchanged))
	switch {
	case dryRun:
		fmt.Fprintf(out, "Dry run: %s.\n", summary)
		return
	case res.Changed:
		fmt.Fprintf(out, "Committed %s: %s.\n", shortHash(res.Commit), summary)
	default:
		fmt.Fprintf(out, "Nothing to back up, %d files unchanged.\n", len(res.Unchanged))
	}
	if res.Pushed {
		fmt.Fprintf(out, "Pushed to %s.\n", origin)
	}
}

func printFindings(out io.Writer, st *styles, findings []secrets.Finding) {
	for _, f := range findings {
		fmt.Fprintf(out, "%s %s:%d %s (%s)\n",
			st.removed.Render("secret"), f.File, f.Line, f.Description, f.RuleID)
	}
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
