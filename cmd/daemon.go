package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"zesty-backup/internal/backup"
	"zesty-backup/internal/config"
	"zesty-backup/internal/errors"
	"zesty-backup/internal/scheduler"
)

func createDaemonCommand(opts *rootOptions) *cobra.Command {
	var (
		backupInterval int
		uploadInterval int
		pidFile        string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run backup and upload cycles on a schedule",
		Long: `Run in the foreground, creating an archive every --backup-interval hours and
uploading pending archives every --upload-interval hours. The first backup
starts immediately. SIGINT or SIGTERM lets the running cycle finish before
the daemon exits; a failed cycle is logged and the daemon keeps running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load(cmd, loadFullRemote, "")
			if err != nil {
				return err
			}
			defer env.Close()

			if backupInterval > 0 {
				env.cfg.Daemon.BackupIntervalHours = backupInterval
			}
			if uploadInterval > 0 {
				env.cfg.Daemon.UploadIntervalHours = uploadInterval
			}
			if pidFile != "" {
				env.cfg.Daemon.PIDFile = pidFile
			}

			initializer := config.NewInitializer(env.cfg, env.runner, env.logger)
			if err := initializer.PrepareLocalDir(); err != nil {
				return err
			}
			for _, w := range initializer.Initialize().Warnings {
				env.logger.Warn(w)
			}

			d, err := buildDaemon(cmd.Context(), env)
			if err != nil {
				return err
			}

			shutdown := daemonShutdown(env, env.cfg.Daemon.PIDFile)
			shutdown.Start()
			defer shutdown.Stop()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				select {
				case <-shutdown.Stopping():
					cancel()
				case <-ctx.Done():
				}
			}()

			return d.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&backupInterval, "backup-interval", 0, "hours between backups (default from config)")
	cmd.Flags().IntVar(&uploadInterval, "upload-interval", 0, "hours between uploads (default from config)")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (default from config)")
	return cmd
}

// daemonShutdown stops the daemon on the first signal. The PID file and the
// log file are released when the daemon returns, or right away when a second
// signal forces the exit.
func daemonShutdown(env *environment, pidFile string) *errors.GracefulShutdownHandler {
	shutdown := errors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc(env.logger.Close)
	if pidFile != "" {
		shutdown.RegisterShutdownFunc(func() error {
			return scheduler.RemovePIDFile(pidFile)
		})
	}
	return shutdown
}

// buildDaemon wires the jobs of both cycle types
func buildDaemon(ctx context.Context, env *environment) (*scheduler.Daemon, error) {
	gw, err := env.gateway(ctx)
	if err != nil {
		return nil, err
	}

	engine := env.engine()
	upload := &scheduler.UploadJob{
		Uploader: env.uploader(gw),
		Logger:   env.logger,
	}
	if env.cfg.Daemon.RemoteRetention {
		upload.Remote = backup.NewRemoteCatalog(gw, env.logger)
		upload.Retention = env.retention()
	}

	return scheduler.NewDaemon(daemonConfig(env.cfg), &scheduler.BackupJob{Engine: engine}, upload, engine.Catalog(), env.logger), nil
}

func daemonConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		BackupInterval: time.Duration(cfg.Daemon.BackupIntervalHours) * time.Hour,
		UploadInterval: time.Duration(cfg.Daemon.UploadIntervalHours) * time.Hour,
		CycleTimeout:   cfg.Daemon.CycleTimeout,
		LocalDir:       cfg.Backup.LocalBackupDir,
		PIDFile:        cfg.Daemon.PIDFile,
	}
}
