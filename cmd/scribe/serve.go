package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/app"
	"github.com/seantiz/scribe/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, lease reaper and retention sweep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var catalog *config.Catalog
		if cfg.CatalogFile != "" {
			c, err := config.LoadCatalog(cfg.CatalogFile)
			if err != nil {
				return err
			}
			catalog = c
		}

		a, err := app.New(ctx, cfg, catalog, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Error("close store", "error", err)
			}
		}()

		if err := a.Run(ctx); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}
