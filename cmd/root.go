package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"zesty-backup/internal/backup"
	"zesty-backup/internal/config"
	"zesty-backup/internal/confirmation"
	"zesty-backup/internal/database"
	"zesty-backup/internal/display"
	"zesty-backup/internal/errors"
	"zesty-backup/internal/execution"
	"zesty-backup/internal/logging"
	"zesty-backup/internal/storage"
)

// rootOptions holds the persistent flags and the viper instance they are
// bound to
type rootOptions struct {
	cfgFile    string
	verbose    bool
	quiet      bool
	noColor    bool
	noProgress bool

	viper *viper.Viper
	// runner is replaced in tests
	runner execution.CommandRunner
}

// newRootCommand builds the command tree. A nil runner executes real
// commands.
func newRootCommand(runner execution.CommandRunner) *cobra.Command {
	opts := &rootOptions{viper: viper.New(), runner: runner}

	rootCmd := &cobra.Command{
		Use:   "zesty-backup",
		Short: "Incremental project backups with local retention and remote upload",
		Long: `zesty-backup archives a project directory, a database dump and a snapshot
of system configuration into compressed tarballs, keeps a bounded local
history and uploads archives to remote storage.

Examples:
  # Generate a configuration file to start from
  zesty-backup config generate -o zesty-backup.yaml

  # Create an archive now, forcing a full one
  zesty-backup backup --full

  # List remote archives as JSON
  zesty-backup list --remote --output json

  # Run the scheduler in the foreground
  zesty-backup daemon --backup-interval 6 --upload-interval 24

  # Restore an archive into a scratch directory
  zesty-backup restore backup-20240115-100000.tar.zst -t /tmp/restore`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.verbose && opts.quiet {
				return errors.NewConfigError("--verbose and --quiet flags are mutually exclusive", nil)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is ./zesty-backup.yaml or $HOME/.zesty-backup.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-error output")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("log-dir", "", "also write logs to <dir>/"+logging.LogFileName)
	flags.BoolVar(&opts.noColor, "no-color", false, "disable color output")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "disable progress indicators")

	opts.viper.BindPFlag("logging.format", flags.Lookup("log-format"))
	opts.viper.BindPFlag("logging.log_dir", flags.Lookup("log-dir"))

	rootCmd.AddCommand(
		createBackupCommand(opts),
		createListCommand(opts),
		createUploadCommand(opts),
		createDownloadCommand(opts),
		createCleanCommand(opts),
		createRestoreCommand(opts),
		createDaemonCommand(opts),
		createStatusCommand(opts),
		createLogsCommand(opts),
		createClientCommand(opts),
		createConfigCommand(opts),
		createVersionCommand(),
	)
	return rootCmd
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(nil)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %s\n", errors.FormatUserError(err))
		return errors.ExitCode(err)
	}
	return errors.ExitOK
}

// environment is what a command needs after the configuration is loaded
type environment struct {
	cfg        *config.Config
	configFile string
	logger     *logging.Logger
	printer    *display.Printer
	runner     execution.CommandRunner
	inFlight   *backup.InFlight
}

// loadMode selects how much of the configuration must be valid
type loadMode int

const (
	// loadLenient only reads the file and applies defaults
	loadLenient loadMode = iota
	// loadRemote reads the file and requires a valid storage section
	loadRemote
	// loadFull resolves secrets and validates every section
	loadFull
	// loadFullRemote is loadFull plus a valid storage section
	loadFullRemote
)

// load reads the configuration and builds the logger and printer
func (o *rootOptions) load(cmd *cobra.Command, mode loadMode, format display.OutputFormat) (*environment, error) {
	loader := config.NewLoaderWithViper(o.viper)

	var (
		cfg *config.Config
		err error
	)
	if mode >= loadFull {
		cfg, err = loader.Load(o.cfgFile)
	} else {
		cfg, err = loader.Read(o.cfgFile)
	}
	if err != nil {
		return nil, err
	}
	if mode == loadRemote || mode == loadFullRemote {
		if err := cfg.ValidateStorage(); err != nil {
			return nil, err
		}
	}

	return o.newEnvironment(cmd, cfg, loader.ConfigFileUsed(), format)
}

func (o *rootOptions) newEnvironment(cmd *cobra.Command, cfg *config.Config, configFile string, format display.OutputFormat) (*environment, error) {
	logCfg := cfg.LoggerConfig()
	logCfg.Output = cmd.ErrOrStderr()
	switch {
	case o.verbose:
		logCfg.Level = logging.LogLevelVerbose
	case o.quiet:
		logCfg.Level = logging.LogLevelQuiet
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, errors.NewConfigError("failed to set up logging", err)
	}

	printer := display.NewPrinter(&display.DisplayConfig{
		Format:       format,
		ColorEnabled: !o.noColor,
		UseIcons:     true,
		ShowProgress: !o.noProgress,
		Quiet:        o.quiet,
		Writer:       cmd.OutOrStdout(),
		ErrWriter:    cmd.ErrOrStderr(),
	})

	runner := o.runner
	if runner == nil {
		runner = execution.NewExecRunner(logger)
	}

	return &environment{
		cfg:        cfg,
		configFile: configFile,
		logger:     logger,
		printer:    printer,
		runner:     runner,
		inFlight:   backup.NewInFlight(),
	}, nil
}

// Close flushes the log file, if any
func (e *environment) Close() {
	e.logger.Close()
}

// gateway connects to the configured remote storage
func (e *environment) gateway(ctx context.Context) (storage.Gateway, error) {
	return storage.NewGateway(ctx, e.cfg.Storage, storage.Dependencies{
		Runner: e.runner,
		Logger: e.logger,
		Retry:  e.cfg.RetryConfig(),
	})
}

// optionalGateway returns nil when no provider is configured
func (e *environment) optionalGateway(ctx context.Context) (storage.Gateway, error) {
	if e.cfg.Storage.Provider == "" {
		return nil, nil
	}
	return e.gateway(ctx)
}

// engine wires the archive pipeline from the configuration
func (e *environment) engine() *backup.Engine {
	deps := backup.EngineDeps{
		Snapshots: backup.NewSnapshotCollector(e.cfg.SnapshotConfig(), e.runner, e.logger),
		InFlight:  e.inFlight,
		Logger:    e.logger,
	}
	if e.cfg.Database.Enabled {
		deps.Dumper = database.NewDumper(e.cfg.Database, e.runner, e.logger)
	}
	return backup.NewEngine(e.cfg.EngineConfig(), deps)
}

// uploader wires the upload pool for gw
func (e *environment) uploader(gw storage.Gateway) *backup.Uploader {
	return backup.NewUploader(gw, e.cfg.Backup.LocalBackupDir, e.inFlight, e.cfg.Daemon.UploadWorkers, e.logger)
}

// retention builds the retention manager shared by local and remote scopes
func (e *environment) retention() backup.RetentionManager {
	return backup.NewRetentionManager(backup.NewRetentionPolicy(e.cfg.Backup.RetentionDays), e.inFlight, e.logger)
}

// confirmer returns nil when stdin is not a terminal, so scripted runs
// never block on a prompt
func (o *rootOptions) confirmer(cmd *cobra.Command) confirmation.Service {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return nil
	}
	return confirmation.NewService(in, cmd.ErrOrStderr(), display.NewColorSystem(!o.noColor))
}

// outputFlag registers --output on cmd
func outputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "output", string(display.FormatTable), "output format (table, json, yaml)")
}

func parseOutput(s string) (display.OutputFormat, error) {
	format, err := display.ParseOutputFormat(s)
	if err != nil {
		return "", errors.NewConfigError(err.Error(), nil)
	}
	return format, nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "zesty-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
