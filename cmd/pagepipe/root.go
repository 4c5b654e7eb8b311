package main

import (
	"log/slog"

	"github.com/jzx17/pagepipeline/internal/logging"
	"github.com/jzx17/pagepipeline/pkg/config"
	"github.com/jzx17/pagepipeline/pkg/types"
	"github.com/spf13/cobra"
)

// globalOptions are the flags shared by every subcommand
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "pagepipe",
		Short:         "Run documents through the staged page pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "auto", "Log format (auto, console, json)")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newConfigCommand(opts))

	return rootCmd
}

// loadConfig returns the configuration file's values, or the defaults when no file was given
func (o *globalOptions) loadConfig() (*types.Config, error) {
	if o.configPath == "" {
		return types.DefaultConfig(), nil
	}
	return config.Load(o.configPath)
}

// newLogger builds the logger writing to cmd's error stream
func (o *globalOptions) newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:  o.logLevel,
		Format: o.logFormat,
		Writer: cmd.ErrOrStderr(),
	})
}
