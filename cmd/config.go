package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"zesty-backup/internal/config"
	"zesty-backup/internal/errors"
)

func createConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or check the configuration file",
	}
	cmd.AddCommand(createConfigGenerateCommand(), createConfigValidateCommand(opts))
	return cmd
}

func createConfigGenerateCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a documented sample configuration",
		Long: `Write a documented sample configuration to stdout, or to a file with -o.
Secrets are better supplied through the environment, for example
ZESTY_BACKUP_STORAGE_SECRET_KEY or DB_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), config.ExampleYAML())
				return nil
			}
			if err := config.WriteExample(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write instead of stdout")
	return cmd
}

func createConfigValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the tools it needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load(cmd, loadLenient, "")
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.cfg.ResolveSecrets(); err != nil {
				env.printer.Error("%s", errors.FormatUserError(err))
			}
			result := config.NewInitializer(env.cfg, env.runner, env.logger).Initialize()
			for _, w := range result.Warnings {
				env.printer.Warning("%s", w)
			}
			for _, fix := range result.RecommendedFixes {
				env.printer.Info("%s", fix)
			}
			if !result.Success {
				for _, e := range result.Errors {
					env.printer.Error("%s", e)
				}
				return errors.NewConfigError(fmt.Sprintf("%d configuration problems found", len(result.Errors)), nil)
			}
			env.printer.Success("Configuration is valid")
			return nil
		},
	}
}
