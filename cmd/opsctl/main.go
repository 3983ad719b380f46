// Package main implements opsctl, the operator CLI for regionwatch.
//
// Usage:
//
//	opsctl migrate up
//	opsctl schedule sync --region-file regions.json [--dry-run]
//	opsctl schedule get <regionId>
//	opsctl schedule validate "cron(0 6 * * ? *)" --timezone Europe/Paris
//	opsctl job get <jobId>
//	opsctl job list --region <regionId> [--limit 20]
//	opsctl job status <jobId>
//	opsctl job input <jobId>
//	opsctl locks purge
//
// Commands read the same environment as the workers (DATABASE_URL, ENGINE_*,
// SCHEDULER_*, ...). Logs go to stderr; command output goes to stdout as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"regionwatch/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operate the regionwatch job trigger system",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newMigrateCmd(),
		newScheduleCmd(),
		newJobCmd(),
		newLocksCmd(),
	)
	return root
}

// bootstrap opens the shared dependencies with logs on stderr.
func bootstrap(cmd *cobra.Command) (*app.Deps, error) {
	return app.Bootstrap(cmd.Context(), "opsctl", app.WithLogOutput(cmd.ErrOrStderr()))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
