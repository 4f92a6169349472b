package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/qft/config"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

// app carries state shared by every subcommand once the root pre-run has
// loaded the configuration.
type app struct {
	configPath string
	logLevel   string

	cfg  *config.Config
	logs io.Closer
}

func (a *app) close() {
	if a.logs != nil {
		a.logs.Close()
		a.logs = nil
	}
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "qft",
		Short:         "qft sends files and streams to a peer over TCP",
		Long:          `qft streams a file, a memory-mapped file or standard input to a receiver, raw or compressed. Receivers are reached by IP, by mDNS hostname, or through an SSH tunnel with remote port negotiation.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if a.logLevel != "" {
				cfg.LogLevel = a.logLevel
			}
			logs, err := config.ConfigureLogging(logrus.StandardLogger(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to configure logging: %w", err)
			}
			a.cfg = cfg
			a.logs = logs

			if cfg.File != "" {
				logrus.WithFields(logrus.Fields{
					"function": "PersistentPreRunE",
					"file":     cfg.File,
				}).Debug("Loaded config file")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(sendCommand(a))
	rootCmd.AddCommand(getFreePortCommand())
	rootCmd.AddCommand(versionCommand())

	return rootCmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the qft version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "qft %s\n", version)
			return err
		},
	}
}
