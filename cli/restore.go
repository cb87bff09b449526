package cli

import (
	"fmt"
	"io"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/harrybrwn/syd/config"
	"github.com/harrybrwn/syd/restore"
)

type restoreFlags struct {
	dryRun     bool
	offline    bool
	all        bool
	force      bool
	onConflict string
}

func NewRestoreCmd(opts *Options) *cobra.Command {
	var flags restoreFlags
	c := &cobra.Command{
		Use:   "restore [paths...]",
		Short: "Copy files from the repository back to where they belong",
		Long: `Restore copies files out of the backup repository to their original
locations. The repository is cloned or updated from the remote first.

A file that was edited locally since the last backup or restore is a
conflict. Conflicts are skipped unless --on-conflict says otherwise.`,
		Example: "$ syd restore\n" +
			"\t$ syd restore ~/.bashrc .config/nvim\n" +
			"\t$ syd restore --on-conflict backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if !flags.all {
				if err = s.conf.RequirePaths(); err != nil {
					return err
				}
			}
			return runRestore(cmd, opts, s, &flags, args)
		},
		ValidArgsFunction: repoFilesCompletion(opts),
	}
	f := c.Flags()
	f.BoolVarP(&flags.dryRun, "dry-run", "n", flags.dryRun, "show what would be restored without writing anything")
	f.BoolVar(&flags.offline, "offline", flags.offline, "do not fetch from the remote")
	f.BoolVarP(&flags.all, "all", "a", flags.all, "restore every file in the repository, not only tracked ones")
	f.BoolVarP(&flags.force, "force", "f", flags.force, "overwrite locally modified files (same as --on-conflict overwrite)")
	f.StringVar(&flags.onConflict, "on-conflict", flags.onConflict, "what to do with locally modified files (skip, overwrite, backup)")
	return c
}

func runRestore(cmd *cobra.Command, opts *Options, s *session, flags *restoreFlags, args []string) error {
	policy := s.conf.Restore.OnConflict
	if flags.onConflict != "" {
		policy = config.ConflictPolicy(flags.onConflict)
	}
	if flags.force {
		if flags.onConflict != "" && policy != config.ConflictOverwrite {
			return errors.Errorf("--force conflicts with --on-conflict %s", policy)
		}
		policy = config.ConflictOverwrite
	}
	st, err := s.openState()
	if err != nil {
		return err
	}
	eng := restore.Engine{
		Git:      s.git,
		Registry: s.reg,
		Remote:   s.remote,
		State:    st,
		Hooks:    s.hooks,
		Log:      s.log,
	}
	bar := newProgressBar(cmd.ErrOrStderr(), opts.NoColor())
	if bar != nil {
		eng.Progress = bar.update
	}
	res, err := eng.Restore(cmd.Context(), restore.Options{
		Offline:    flags.offline,
		All:        flags.all,
		Only:       args,
		DryRun:     flags.dryRun,
		OnConflict: policy,
		PreHooks:   s.conf.Hooks.PreRestore,
		PostHooks:  s.conf.Hooks.PostRestore,
	})
	bar.finish()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printRestore(out, newStyles(out, opts.NoColor()), res, flags.dryRun)
	return nil
}

func printRestore(out io.Writer, st *styles, res *restore.Result, dryRun bool) {
	for _, f := range res.Restored {
		line := fmt.Sprintf("%s %s", st.marker(markAdded), f)
		if saved, ok := res.SavedAs[f]; ok {
			line += st.dim.Render(" (old file saved as " + path.Join(path.Dir(f), filepath.Base(saved)) + ")")
		}
		fmt.Fprintln(out, line)
	}
	for _, f := range res.Conflicts {
		fmt.Fprintf(out, "%s %s %s\n", st.removed.Render(markConflict), f, st.dim.Render("(modified locally, skipped)"))
	}
	verb := "Restored"
	if dryRun {
		verb = "Would restore"
	}
	fmt.Fprintf(out, "%s %d files, %d unchanged", verb, len(res.Restored), len(res.Unchanged))
	if len(res.Conflicts) > 0 {
		fmt.Fprintf(out, ", %d conflicts", len(res.Conflicts))
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(out, ", %d untracked files ignored", len(res.Skipped))
	}
	fmt.Fprintln(out, ".")
	if len(res.Conflicts) > 0 {
		fmt.Fprintln(out, "Use --force or --on-conflict backup to replace modified files.")
	}
}
