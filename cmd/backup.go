package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"zesty-backup/internal/backup"
	"zesty-backup/internal/config"
	"zesty-backup/internal/confirmation"
	"zesty-backup/internal/errors"
)

func createBackupCommand(opts *rootOptions) *cobra.Command {
	var (
		full          bool
		skipRetention bool
		output        string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create an archive now",
		Long: `Create one archive of the project, the database dump and the system snapshot.

An incremental archive is built when a recent full archive exists; --full
starts a new chain. Local retention runs after the archive is finalized.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutput(output)
			if err != nil {
				return err
			}
			env, err := opts.load(cmd, loadFull, format)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := config.NewInitializer(env.cfg, env.runner, env.logger).PrepareLocalDir(); err != nil {
				return err
			}

			spinner := env.printer.StartSpinner("Creating archive")
			outcome, err := env.engine().CreateBackup(cmd.Context(), backup.BackupOptions{
				ForceFull:     full,
				SkipRetention: skipRetention,
			})
			spinner.Stop("")
			if err != nil {
				return err
			}
			return env.printer.RenderBackup(outcome)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "force a full archive")
	cmd.Flags().BoolVar(&skipRetention, "skip-retention", false, "do not prune local archives afterwards")
	outputFlag(cmd, &output)
	return cmd
}

func createListCommand(opts *rootOptions) *cobra.Command {
	var (
		remote bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local or remote archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutput(output)
			if err != nil {
				return err
			}
			mode := loadLenient
			if remote {
				mode = loadRemote
			}
			env, err := opts.load(cmd, mode, format)
			if err != nil {
				return err
			}
			defer env.Close()

			var catalog backup.Catalog = backup.NewLocalCatalog(env.cfg.Backup.LocalBackupDir, env.logger)
			if remote {
				gw, err := env.gateway(cmd.Context())
				if err != nil {
					return err
				}
				catalog = backup.NewRemoteCatalog(gw, env.logger)
			}

			entries, err := catalog.List(cmd.Context())
			if err != nil {
				return wrapListError(catalog.Scope(), err)
			}
			return env.printer.RenderArchives(catalog.Scope(), entries)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "list remote archives instead of local ones")
	outputFlag(cmd, &output)
	return cmd
}

func createCleanCommand(opts *rootOptions) *cobra.Command {
	var (
		dryRun bool
		remote bool
		yes    bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete archives older than the retention period",
		Long: `Apply the retention policy. The newest full archive and every base an
incremental archive depends on are always kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutput(output)
			if err != nil {
				return err
			}
			mode := loadLenient
			if remote {
				mode = loadRemote
			}
			env, err := opts.load(cmd, mode, format)
			if err != nil {
				return err
			}
			defer env.Close()

			var catalog backup.Catalog = backup.NewLocalCatalog(env.cfg.Backup.LocalBackupDir, env.logger)
			if remote {
				gw, err := env.gateway(cmd.Context())
				if err != nil {
					return err
				}
				catalog = backup.NewRemoteCatalog(gw, env.logger)
			}

			retention := env.retention()
			if !dryRun && !yes {
				if ok, err := confirmDeletion(cmd.Context(), opts.confirmer(cmd), retention, catalog); err != nil || !ok {
					if err == nil {
						env.printer.Info("Nothing deleted")
					}
					return err
				}
			}

			result, err := retention.ApplyRetentionPolicy(cmd.Context(), catalog, dryRun)
			if err != nil {
				return err
			}
			if err := env.printer.RenderRetention(catalog.Scope(), result); err != nil {
				return err
			}
			return retentionError(catalog.Scope(), result)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be deleted")
	cmd.Flags().BoolVar(&remote, "remote", false, "prune remote archives instead of local ones")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	outputFlag(cmd, &output)
	return cmd
}

func createRestoreCommand(opts *rootOptions) *cobra.Command {
	var (
		target string
		yes    bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "restore ARCHIVE",
		Short: "Extract an archive into a directory",
		Long: `Extract ARCHIVE below the target directory. ARCHIVE may be a path, a name in
the local backup directory, or a remote archive name that is downloaded
first. Entries that would escape the target are rejected.`,
		Args: cobra.ExactArgs(1),
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

			if !yes && !isEmptyDir(target) {
				conf := opts.confirmer(cmd)
				if conf != nil {
					ok, err := conf.Confirm(cmd.Context(), confirmation.Request{
						Title:    "Restore target is not empty",
						Items:    []string{target},
						Warning:  "Files with the same path are overwritten",
						Question: "Restore " + args[0] + " here?",
					}, false)
					if err != nil || !ok {
						return err
					}
				}
			}

			gw, err := env.optionalGateway(cmd.Context())
			if err != nil {
				return err
			}

			engine := backup.NewRestoreEngine(gw, env.cfg.Backup.LocalBackupDir, env.inFlight, env.logger)
			report, err := engine.Restore(cmd.Context(), backup.RestoreRequest{Archive: args[0], Target: target})
			if report != nil && (err == nil || len(report.Extracted)+len(report.Rejected) > 0) {
				if rerr := env.printer.RenderRestore(report); rerr != nil && err == nil {
					err = rerr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", ".", "directory to extract into")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask before restoring into a non-empty directory")
	outputFlag(cmd, &output)
	return cmd
}

// confirmDeletion asks before retention deletes anything. A nil service
// approves.
func confirmDeletion(ctx context.Context, conf confirmation.Service, retention backup.RetentionManager, catalog backup.Catalog) (bool, error) {
	if conf == nil {
		return true, nil
	}
	_, remove, err := retention.GetRetentionCandidates(ctx, catalog)
	if err != nil {
		return false, err
	}
	if len(remove) == 0 {
		return true, nil
	}

	names := make([]string, len(remove))
	for i, e := range remove {
		names[i] = e.Name
	}
	return conf.Confirm(ctx, confirmation.Request{
		Title:    fmt.Sprintf("%d %s archives are past retention", len(remove), catalog.Scope()),
		Items:    names,
		Warning:  "Deleted archives cannot be recovered",
		Question: "Delete them?",
	}, false)
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err != nil || len(entries) == 0
}

// retentionError turns per-entry deletion failures into a retention error
func retentionError(scope string, result *backup.RetentionResult) error {
	if len(result.Errors) == 0 {
		return nil
	}
	return errors.NewRetentionError(
		fmt.Sprintf("%d of %d %s deletions failed", len(result.Errors), len(result.Errors)+len(result.Deleted), scope),
		result.Errors[0])
}

// wrapListError classifies a catalog listing failure. Remote failures
// already carry a provider error.
func wrapListError(scope string, err error) error {
	if scope == "local" {
		return errors.NewArchiveBuildError("failed to list local archives", err)
	}
	return err
}
