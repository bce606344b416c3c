package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"zesty-backup/internal/backup"
	"zesty-backup/internal/config"
	"zesty-backup/internal/display"
	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
	"zesty-backup/internal/scheduler"
)

func createStatusCommand(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state, schedule and configuration health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutput(output)
			if err != nil {
				return err
			}
			env, err := opts.load(cmd, loadLenient, format)
			if err != nil {
				return err
			}
			defer env.Close()

			view, err := buildStatus(cmd, env)
			if err != nil {
				return err
			}
			return env.printer.RenderStatus(view)
		},
	}

	outputFlag(cmd, &output)
	return cmd
}

func buildStatus(cmd *cobra.Command, env *environment) (display.StatusView, error) {
	cfg := env.cfg
	view := display.StatusView{
		ConfigFile: env.configFile,
		Provider:   cfg.Storage.Provider,
		LocalDir:   cfg.Backup.LocalBackupDir,
	}

	if pid, err := scheduler.ReadPIDFile(cfg.Daemon.PIDFile); err == nil && scheduler.ProcessRunning(pid) {
		view.DaemonRunning = true
		view.PID = pid
	}

	catalog := backup.NewLocalCatalog(cfg.Backup.LocalBackupDir, env.logger)
	entries, err := catalog.List(cmd.Context())
	if err != nil {
		return view, errors.NewArchiveBuildError("failed to list local archives", err)
	}
	view.Archives = len(entries)
	for _, e := range entries {
		view.LocalSize += e.Size
	}

	uploadInterval := time.Duration(cfg.Daemon.UploadIntervalHours) * time.Hour
	schedule := scheduler.DeriveSchedule(cmd.Context(), catalog, time.Now(), uploadInterval, env.logger)
	view.LastBackup = schedule.LastBackup
	if view.DaemonRunning {
		if !schedule.LastBackup.IsZero() {
			view.NextBackup = schedule.LastBackup.Add(time.Duration(cfg.Daemon.BackupIntervalHours) * time.Hour)
		}
		view.NextUpload = schedule.NextUpload
	}

	result := config.NewInitializer(cfg, env.runner, env.logger).Initialize()
	view.Warnings = result.Warnings
	view.Errors = result.Errors
	return view, nil
}

func createLogsCommand(opts *rootOptions) *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the last lines of the log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load(cmd, loadLenient, "")
			if err != nil {
				return err
			}
			defer env.Close()

			if env.cfg.Logging.LogDir == "" {
				return errors.NewConfigError("logging.log_dir is not set, logs only go to stderr", nil)
			}
			path := filepath.Join(env.cfg.Logging.LogDir, logging.LogFileName)
			tail, err := logging.Tail(path, lines)
			if err != nil {
				return errors.WrapError(err, fmt.Sprintf("cannot read %s", path))
			}
			for _, line := range tail {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}
