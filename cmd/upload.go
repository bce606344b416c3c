package cmd

import (
	"github.com/spf13/cobra"

	"zesty-backup/internal/backup"
	"zesty-backup/internal/storage"
)

func createUploadCommand(opts *rootOptions) *cobra.Command {
	var (
		file   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload local archives that are not yet remote",
		Long: `Upload every finalized local archive whose remote copy is missing or has a
different size, or a single archive with --file.`,
		Args: cobra.NoArgs,
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
			uploader := env.uploader(gw)

			spinner := env.printer.StartSpinner("Uploading to " + gw.Name())
			var report *backup.UploadReport
			if file != "" {
				report, err = uploader.UploadFile(cmd.Context(), file)
			} else {
				report, err = uploader.UploadPending(cmd.Context())
			}
			spinner.Stop("")

			if report != nil {
				if rerr := env.printer.RenderUpload(report); rerr != nil && err == nil {
					err = rerr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "upload only this archive")
	outputFlag(cmd, &output)
	return cmd
}

func createDownloadCommand(opts *rootOptions) *cobra.Command {
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

// runDownload fetches name and its sidecar from gw into dest
func runDownload(cmd *cobra.Command, env *environment, gw storage.Gateway, name, dest string) error {
	spinner := env.printer.StartSpinner("Downloading " + name)
	path, err := backup.Download(cmd.Context(), gw, name, dest, env.logger)
	spinner.Stop("")
	if err != nil {
		return err
	}
	env.printer.Success("Downloaded %s", path)
	return nil
}
