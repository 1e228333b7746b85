package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/config"
	"github.com/seantiz/scribe/internal/service"
	"github.com/seantiz/scribe/internal/store"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Validate or apply a catalog of API keys, models and engines",
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a catalog file without touching the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadCatalog(args[0])
		if err != nil {
			return err
		}
		versions := 0
		for _, e := range c.Engines {
			versions += len(e.Versions)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d api keys, %d models, %d engines, %d versions\n",
			args[0], len(c.ApiKeys), len(c.Models), len(c.Engines), versions)
		return nil
	},
}

var catalogApplyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Create the catalog entries missing from the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadCatalog(args[0])
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		if err := service.ApplyCatalog(cmd.Context(), st, c, logger); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", args[0])
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogCheckCmd)
	catalogCmd.AddCommand(catalogApplyCmd)
}
