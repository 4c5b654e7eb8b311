package main

import (
	"fmt"

	"github.com/jzx17/pagepipeline/pkg/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(opts *globalOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigShowCommand(opts))
	configCmd.AddCommand(newConfigValidateCommand(opts))

	return configCmd
}

func newConfigShowCommand(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			switch config.Format(format) {
			case config.FormatYAML, config.FormatTOML:
			default:
				return fmt.Errorf("--format must be yaml or toml, got %q", format)
			}
			return config.Encode(cmd.OutOrStdout(), cfg, config.Format(format))
		},
	}

	cmd.Flags().StringVar(&format, "format", string(config.FormatYAML), "Output format (yaml or toml)")
	return cmd
}

func newConfigValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath == "" {
				return fmt.Errorf("no configuration file given (use --config)")
			}
			if _, err := opts.loadConfig(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s is valid\n", opts.configPath)
			return nil
		},
	}
}
