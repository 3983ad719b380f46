package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"regionwatch/internal/db"
	"regionwatch/internal/dispatch"
)

func newJobCmd() *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs",
	}
	jobCmd.AddCommand(newJobGetCmd(), newJobListCmd(), newJobStatusCmd(), newJobInputCmd())
	return jobCmd
}

func newJobGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <jobId>",
		Short: "Show a stored job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			job, err := db.NewJobRepository(deps.Pool).GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newJobListCmd() *cobra.Command {
	var (
		regionID string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent jobs of a region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}
			deps, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			jobs, err := db.NewJobRepository(deps.Pool).ListByRegion(cmd.Context(), regionID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	cmd.Flags().StringVar(&regionID, "region", "", "Region ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func newJobStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <jobId>",
		Short: "Ask the execution engine for the live status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.Config.RequireEngine(); err != nil {
				return err
			}
			job, err := db.NewJobRepository(deps.Pool).GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			st, err := deps.Clients.Engine.Status(cmd.Context(), job.Priority, job.EngineHandle)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"jobId":        job.ID,
				"storedStatus": job.Status,
				"engine":       st,
			})
		},
	}
}

func newJobInputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "input <jobId>",
		Short: "Print the staged input document of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			stager := deps.NewStager()
			if stager == nil {
				return fmt.Errorf("input staging is disabled (INPUT_BUCKET unset or stub mode)")
			}
			job, err := db.NewJobRepository(deps.Pool).GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			doc, err := stager.Fetch(cmd.Context(), stager.Location(dispatch.InputKey(job.OutputPrefix)))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(doc, '\n'))
			return err
		},
	}
}
