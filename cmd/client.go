package cmd

import (
	"github.com/spf13/cobra"

	"zesty-backup/internal/backup"
)

// clientFlags maps the client command's flags to storage config keys
var clientFlags = []struct {
	name, key, usage string
}{
	{"provider", "storage.provider", "storage provider"},
	{"bucket", "storage.bucket", "bucket or container name"},
	{"region", "storage.region", "bucket region"},
	{"endpoint", "storage.endpoint", "custom S3-compatible endpoint"},
	{"path", "storage.path", "target directory of the local provider"},
	{"access-key", "storage.access_key", "access key ID"},
	{"secret-key", "storage.secret_key", "secret access key"},
	{"account-name", "storage.account_name", "Azure storage account name"},
	{"account-key", "storage.account_key", "Azure storage account key"},
	{"credentials-path", "storage.credentials_path", "service account or token file"},
}

func createClientCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Browse and fetch remote archives without a local setup",
		Long: `Remote-only operations for machines that only restore. Storage settings come
from flags, ZESTY_BACKUP_STORAGE_* variables or the storage section of a
config file; nothing else in the file needs to be valid.

Examples:
  zesty-backup client list --provider s3 --bucket backups --region eu-west-1
  zesty-backup client download backup-20240115-100000.tar.zst -o /tmp`,
	}

	flags := cmd.PersistentFlags()
	for _, f := range clientFlags {
		flags.String(f.name, "", f.usage)
		opts.viper.BindPFlag(f.key, flags.Lookup(f.name))
	}

	cmd.AddCommand(createClientListCommand(opts), createClientDownloadCommand(opts))
	return cmd
}

func createClientListCommand(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remote archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutput(output)
			if err != nil {
				return err
			}
			env, err := opts.load(cmd, loadRemote, format)
			if err != nil {
				return err
			}
			defer env.Close()

			gw, err := env.gateway(cmd.Context())
			if err != nil {
				return err
			}
			catalog := backup.NewRemoteCatalog(gw, env.logger)
			entries, err := catalog.List(cmd.Context())
			if err != nil {
				return err
			}
			return env.printer.RenderArchives(catalog.Scope(), entries)
		},
	}

	outputFlag(cmd, &output)
	return cmd
}

func createClientDownloadCommand(opts *rootOptions) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "download NAME",
		Short: "Download a remote archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load(cmd, loadRemote, "")
			if err != nil {
				return err
			}
			defer env.Close()

			gw, err := env.gateway(cmd.Context())
			if err != nil {
				return err
			}
			return runDownload(cmd, env, gw, args[0], dest)
		},
	}

	cmd.Flags().StringVarP(&dest, "output", "o", ".", "directory to download into")
	return cmd
}
