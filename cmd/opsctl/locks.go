package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"regionwatch/internal/db"
)

func newLocksCmd() *cobra.Command {
	locksCmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect dispatch locks",
	}
	locksCmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired dispatch locks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			n, err := db.NewLockRepository(deps.Pool).PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired lock(s)\n", n)
			return nil
		},
	})
	return locksCmd
}
