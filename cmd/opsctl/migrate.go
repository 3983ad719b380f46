package main

import (
	"github.com/spf13/cobra"

	"regionwatch/internal/db"
)

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()
			return db.MigrateUp(cmd.Context(), deps.Pool, deps.Logger)
		},
	})
	return migrateCmd
}
