package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobboard.app/atsbridge/core/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.cfg.Store != config.StoreBackendPostgres {
			return fmt.Errorf("migrate needs the postgres store, got %q", a.cfg.Store)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}
