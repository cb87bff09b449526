package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/harrybrwn/syd/git"
	"github.com/harrybrwn/syd/registry"
	"github.com/harrybrwn/syd/snapshot"
	"github.com/harrybrwn/syd/state"
	"github.com/harrybrwn/syd/tree"
)

type listFlags struct {
	flat bool
}

func NewListCmd(opts *Options) *cobra.Command {
	var flags listFlags
	c := &cobra.Command{
		Use:     "list [paths...]",
		Aliases: []string{"ls"},
		Short:   "List the files being tracked",
		Long: `List every tracked file as a tree. Files are marked with A when they
are not in the repository yet, M when they differ from the repository, R
when the repository has a newer version and ! when the tracked path does not
exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err = s.conf.RequirePaths(); err != nil {
				return err
			}
			plan, err := s.plan()
			if err != nil {
				return err
			}
			marks := make(map[string]string)
			for _, group := range []struct {
				mark    string
				entries []registry.Entry
			}{
				{"", plan.Unchanged},
				{markAdded, plan.Added},
				{markModified, plan.Modified},
				{markMissing, plan.Missing},
				{markBehind, plan.Behind},
			} {
				for _, e := range group.entries {
					marks[e.RepoPath] = group.mark
				}
			}
			files := make([]string, 0, len(marks))
			for p := range marks {
				files = append(files, p)
			}
			tr := tree.New(files)
			if len(args) > 0 {
				filter, err := s.repoPaths(args)
				if err != nil {
					return err
				}
				tr = tr.FilterBy(filter...)
			}
			out := cmd.OutOrStdout()
			if flags.flat {
				return listFlat(out, tr.ListPaths())
			}
			st := newStyles(out, opts.NoColor())
			p := tree.Printer{
				Marker:      func(n *tree.Node) string { return marks[n.Path()] },
				MarkerStyle: st.marker,
				Style: func(n *tree.Node, name string) string {
					if n.Type == tree.TreeNode {
						return st.dir.Render(name)
					}
					return name
				},
			}
			return p.Print(out, tr)
		},
		ValidArgsFunction: trackedCompletion(opts),
	}
	c.Flags().BoolVar(&flags.flat, "flat", flags.flat, "print as flat list")
	return c
}

func listFlat(out io.Writer, files []string) error {
	for _, f := range files {
		if _, err := fmt.Fprintln(out, f); err != nil {
			return err
		}
	}
	return nil
}

// plan compares the tracked files with the repository's HEAD. Files that
// still match their last sync are reported as behind.
func (s *session) plan() (*snapshot.Plan, error) {
	entries, err := s.reg.Resolve()
	if err != nil {
		return nil, err
	}
	var head []*git.Object
	if s.git.Exists() {
		if head, err = s.git.Files(); err != nil {
			return nil, errors.Wrap(err, "could not list repository files")
		}
	}
	plan, err := snapshot.NewPlan(entries, head)
	if err != nil || !exists(s.statePath) {
		return plan, err
	}
	store, err := s.openState()
	if err != nil {
		return nil, err
	}
	records, err := store.All()
	if err != nil {
		return nil, err
	}
	plan.SplitBehind(records)
	return plan, nil
}

// repoPaths maps command line arguments to repository paths.
func (s *session) repoPaths(args []string) ([]string, error) {
	abs, err := absPaths(args)
	if err != nil {
		return nil, err
	}
	x := s.conf.Expander()
	out := make([]string, 0, len(abs))
	for _, a := range abs {
		p, err := x.Expand(a)
		if err != nil {
			return nil, err
		}
		rp, err := s.reg.RepoPath(p)
		if err != nil {
			return nil, err
		}
		if rp != "" {
			out = append(out, rp)
		}
	}
	return out, nil
}

func NewStatusCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the repository and the tracked files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()
			return status(out, newStyles(out, opts.NoColor()), s)
		},
	}
}

func status(out io.Writer, st *styles, s *session) error {
	row := func(label, value string) {
		fmt.Fprintf(out, "%s %s\n", st.label.Render(label), value)
	}
	row("Config", s.conf.Path)
	repo := s.git.WorkingTree()
	if !s.git.Exists() {
		row("Repository", repo+st.dim.Render(" (not created yet, run '"+name+" init')"))
	} else {
		row("Repository", repo)
	}
	row("Branch", s.remote.Branch())
	switch {
	case !s.remote.HasRemote():
		row("Remote", st.dim.Render("none"))
	case !s.git.Exists():
		row("Remote", s.remote.Origin())
	default:
		ahead, behind, err := s.git.AheadBehind(s.remote.RemoteRef())
		if errors.Is(err, git.ErrUnknownRef) {
			row("Remote", s.remote.Origin()+st.dim.Render(" (never fetched)"))
		} else if err != nil {
			return err
		} else {
			row("Remote", fmt.Sprintf("%s (%d ahead, %d behind)", s.remote.Origin(), ahead, behind))
		}
	}
	if s.git.Exists() {
		modified, untracked, err := s.git.Status()
		if err != nil {
			return err
		}
		row("Work tree", fmt.Sprintf("%d modified, %d untracked", modified, untracked))
	}

	if exists(s.statePath) {
		store, err := s.openState()
		if err != nil {
			return err
		}
		for _, m := range []struct{ label, key string }{
			{"Last backup", state.MetaLastBackup},
			{"Last restore", state.MetaLastRestore},
		} {
			t, err := store.Time(m.key)
			if err != nil {
				return err
			}
			row(m.label, when(t, st))
		}
	}
	if len(s.conf.Files.Paths) == 0 {
		fmt.Fprintf(out, "\nNothing is tracked yet, start with '%s add <path>'.\n", name)
		return nil
	}

	plan, err := s.plan()
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	for _, e := range plan.Unchanged {
		fmt.Fprintf(out, "  %s %s\n", st.ok.Render(pad("synced")), e.RepoPath)
	}
	for _, e := range plan.Modified {
		fmt.Fprintf(out, "  %s %s\n", st.modified.Render(pad("local newer")), e.RepoPath)
	}
	for _, e := range plan.Behind {
		fmt.Fprintf(out, "  %s %s\n", st.modified.Render(pad("repo newer")), e.RepoPath)
	}
	for _, e := range plan.Added {
		fmt.Fprintf(out, "  %s %s\n", st.added.Render(pad("not backed up")), e.RepoPath)
	}
	for _, e := range plan.Missing {
		fmt.Fprintf(out, "  %s %s\n", st.missing.Render(pad("source missing")), e.RepoPath)
	}
	for _, p := range plan.Orphaned {
		fmt.Fprintf(out, "  %s %s\n", st.dim.Render(pad("untracked")), p)
	}
	return nil
}

func pad(s string) string { return fmt.Sprintf("%-14s", s) }

func when(t time.Time, st *styles) string {
	if t.IsZero() {
		return st.dim.Render("never")
	}
	return t.Local().Format(time.DateTime)
}
