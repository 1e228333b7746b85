package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Loaded by PersistentPreRunE for commands that need them.
	cfg         config.Config
	logger      *slog.Logger
	closeLogger func() error
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Page OCR job server",
	Long: `Scribe accepts page images for OCR, leases pages to processing workers,
tracks their results and expires old work after a retention window.

Configuration is read from SCRIBE_* environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		var err error
		logger, closeLogger, err = config.SetupLogger(cfg)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLogger != nil {
			return closeLogger()
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "scribe", Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(versionCmd)
}
