package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harrybrwn/syd/config"
	"github.com/harrybrwn/syd/git"
	"github.com/harrybrwn/syd/hooks"
	"github.com/harrybrwn/syd/logging"
	"github.com/harrybrwn/syd/registry"
	"github.com/harrybrwn/syd/remote"
	"github.com/harrybrwn/syd/state"
)

const name = "syd"

var (
	Version string // release version
	Commit  string // git commit of release
	Hash    string // sha256 of source code
	Date    string

	// set at compile time with -ldflags
	// "false" to disable completions command
	completions string
)

type Options struct {
	ConfigPath string
	StatePath  string
	noColor    bool
	verbose    bool
	logLevel   string
	logFormat  string

	// home overrides the home directory lookup
	home config.HomeProvider
	conf *config.Config
	log  *zap.Logger
}

func (o *Options) NoColor() bool { return o.noColor }

// Logger returns the logger configured by the persistent flags.
func (o *Options) Logger() *zap.Logger {
	if o.log == nil {
		return zap.NewNop()
	}
	return o.log
}

func (o *Options) setupLogger(w io.Writer) error {
	level := logging.Level(o.logLevel)
	if o.verbose {
		level = logging.LevelDebug
	}
	l, err := logging.New(level, logging.Format(o.logFormat), w)
	if err != nil {
		return err
	}
	o.log = l
	return nil
}

// Config loads and validates the config file once.
func (o *Options) Config() (*config.Config, error) {
	if o.conf != nil {
		return o.conf, nil
	}
	c, err := config.Load(o.ConfigPath)
	if errors.Is(err, config.ErrNotFound) {
		return nil, errors.WithMessage(err, "run '"+name+" init' first")
	} else if err != nil {
		return nil, err
	}
	if o.home != nil {
		c.SetExpander(config.NewExpanderWithHome(o.home))
	}
	if err = c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", c.Path)
	}
	for _, key := range c.Unknown {
		o.Logger().Warn("unknown config key", zap.String("key", key), zap.String("file", c.Path))
	}
	o.conf = c
	return c, nil
}

func (o *Options) statePath() string {
	if o.StatePath != "" {
		return o.StatePath
	}
	return state.DefaultPath()
}

// session holds everything a command needs to work on the backup
// repository.
type session struct {
	conf   *config.Config
	git    *git.Git
	reg    *registry.Registry
	remote *remote.Worker
	hooks  *hooks.Runner
	log    *zap.Logger

	statePath string
	state     *state.Store
}

func (o *Options) session(cmd *cobra.Command) (*session, error) {
	conf, err := o.Config()
	if err != nil {
		return nil, err
	}
	repoPath, err := conf.RepoPath()
	if err != nil {
		return nil, errors.Wrap(err, "invalid repository path")
	}
	log := o.Logger()
	reg, err := registry.FromConfig(
		conf,
		registry.WithExclude(repoPath, filepath.Dir(o.statePath())),
		registry.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	remoteOpts := []remote.Option{
		remote.Branch(conf.Repository.Branch),
		remote.Logger(log),
	}
	if o.verbose {
		remoteOpts = append(remoteOpts, remote.Progress(cmd.ErrOrStderr()))
	}
	home, _ := conf.Expander().Home()
	return &session{
		conf:   conf,
		git:    git.Open(repoPath),
		reg:    reg,
		remote: remote.New(repoPath, conf.Repository.Remote, remoteOpts...),
		hooks: &hooks.Runner{
			Repo:   repoPath,
			Dir:    home,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
			Log:    log,
		},
		log:       log,
		statePath: o.statePath(),
	}, nil
}

// openState opens the state database. It stays open until Close.
func (s *session) openState() (*state.Store, error) {
	if s.state != nil {
		return s.state, nil
	}
	st, err := state.Open(s.statePath)
	if err != nil {
		return nil, errors.Wrap(err, "could not open state database")
	}
	s.state = st
	return st, nil
}

func (s *session) Close() error {
	if s.state == nil {
		return nil
	}
	return s.state.Close()
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&Options{
		ConfigPath: config.DefaultPath(),
		logLevel:   string(logging.LevelWarn),
		logFormat:  string(logging.FormatConsole),
	})
}

func newRootCmd(opts *Options) *cobra.Command {
	c := &cobra.Command{
		Use:   name,
		Short: "Back up and restore your dotfiles with git.",
		Long: `
Collect dotfiles from anywhere on the filesystem, keep copies of them in a
git repository, sync that repository with a remote and put the files back
where they came from on another machine.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: completions == "false",
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogger(cmd.ErrOrStderr())
		},
	}
	c.AddCommand(
		NewInitCmd(opts),
		NewBackupCmd(opts),
		NewRestoreCmd(opts),
		NewListCmd(opts),
		NewStatusCmd(opts),
		NewSyncCmd(opts),
		NewAddCmd(opts),
		NewRemoveCmd(opts),
		NewScanCmd(opts),
		NewVersionCmd(),
	)
	f := c.PersistentFlags()
	f.StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "configuration file")
	f.BoolVar(&opts.noColor, "no-color", opts.noColor, "disable color output")
	f.BoolVarP(&opts.verbose, "verbose", "v", opts.verbose, "run commands verbosely")
	f.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", opts.logFormat, "log format (console, json)")
	c.SetUsageTemplate(IndentedCobraUsageTemplate)
	return c
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use: "version", Short: "Print the version and build info",
		Aliases: []string{"v"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(
				cmd.OutOrStdout(),
				"%s\n"+
					"commit:     %s\n"+
					"build date: %s\n"+
					"hash:       %s\n",
				Version, Commit, Date, Hash)
		},
	}
}

// absPaths makes command line paths absolute. "~" is left for the config
// expander.
func absPaths(paths []string) ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		switch {
		case p == "~", strings.HasPrefix(p, "~/"), filepath.IsAbs(p):
			out[i] = p
		default:
			out[i] = filepath.Join(cwd, p)
		}
	}
	return out, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func yesOrNo(in io.Reader, out io.Writer, prompt string) bool {
	var res string
	fmt.Fprintf(out, "%s (y/n) ", prompt)
	_, err := fmt.Fscan(in, &res)
	if err != nil {
		return false
	}
	switch strings.ToLower(res) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	cobra.AddTemplateFunc("indent", func(s string) string {
		parts := strings.Split(s, "\n")
		for i := range parts {
			parts[i] = "    " + parts[i]
		}
		return strings.Join(parts, "\n")
	})
}

// This is a template for cobra commands that more
// closely imitates the style of the go command help
// message.
var IndentedCobraUsageTemplate = `Usage:{{if .Runnable}}

	{{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}

	{{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:

	{{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:

	{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
	{{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:

{{.LocalFlags.FlagUsagesWrapped 100 | trimTrailingWhitespaces | indent}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:

{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces | indent}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:
{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
	{{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
