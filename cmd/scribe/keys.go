package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/store"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage API keys",
}

var keySuspendCmd = &cobra.Command{
	Use:   "suspend <key>",
	Short: "Suspend a key; pages of its requests are no longer dispatched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSuspension(cmd, args[0], true)
	},
}

var keyResumeCmd = &cobra.Command{
	Use:   "resume <key>",
	Short: "Lift the suspension of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSuspension(cmd, args[0], false)
	},
}

func setSuspension(cmd *cobra.Command, secret string, suspended bool) error {
	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	k, err := st.GetApiKeyByKey(ctx, secret)
	if err != nil {
		return fmt.Errorf("look up key: %w", err)
	}
	if err := st.SetSuspension(ctx, k.ID, suspended); err != nil {
		return err
	}
	logger.Info("api key updated", "owner", k.Owner, "suspended", suspended)
	fmt.Fprintf(cmd.OutOrStdout(), "key of %s: suspended=%t\n", k.Owner, suspended)
	return nil
}

func init() {
	keyCmd.AddCommand(keySuspendCmd)
	keyCmd.AddCommand(keyResumeCmd)
}
