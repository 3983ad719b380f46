package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"regionwatch/internal/db"
	"regionwatch/internal/external"
	"regionwatch/internal/schedule"
	"regionwatch/internal/types"
)

func newScheduleCmd() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring region triggers",
	}
	scheduleCmd.AddCommand(newScheduleSyncCmd(), newScheduleGetCmd(), newScheduleValidateCmd())
	return scheduleCmd
}

func newScheduleSyncCmd() *cobra.Command {
	var (
		regionFile string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile triggers for every region in a region file",
		Long: "Applies each region of the file as if a region-created event had been received.\n" +
			"The file uses the same format as REGISTRY_FIXTURE_FILE.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			regions, err := loadRegionFile(regionFile)
			if err != nil {
				return err
			}
			if dryRun {
				return syncSchedules(cmd.Context(), nil, regions, cmd.OutOrStdout())
			}

			deps, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			manager, err := deps.NewScheduleManager()
			if err != nil {
				return err
			}
			return syncSchedules(cmd.Context(), manager, regions, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&regionFile, "region-file", "", "JSON file with a \"regions\" array (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print the regions without calling the trigger service")
	_ = cmd.MarkFlagRequired("region-file")
	return cmd
}

func loadRegionFile(path string) ([]types.Region, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region file: %w", err)
	}
	var f external.RegionFixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse region file %s: %w", path, err)
	}
	return f.Regions, nil
}

type regionChangeApplier interface {
	OnRegionChanged(ctx context.Context, old, newRegion *types.Region) error
}

type syncResult struct {
	RegionID string     `json:"regionId"`
	Mode     types.Mode `json:"mode"`
	Result   string     `json:"result"`
	Error    string     `json:"error,omitempty"`
}

// syncSchedules applies every region and prints one result per region. A nil
// applier only validates the processing configuration.
func syncSchedules(ctx context.Context, applier regionChangeApplier, regions []types.Region, out io.Writer) error {
	var errs *multierror.Error
	results := make([]syncResult, 0, len(regions))

	for i := range regions {
		r := &regions[i]
		res := syncResult{RegionID: r.ID, Mode: r.ProcessingConfig.Mode, Result: "applied"}

		var err error
		if applier == nil {
			res.Result = "valid"
			_, err = r.ProcessingConfig.Variant()
		} else {
			err = applier.OnRegionChanged(ctx, nil, r)
		}
		if err != nil {
			res.Result = "failed"
			res.Error = err.Error()
			errs = multierror.Append(errs, fmt.Errorf("region %s: %w", r.ID, err))
		}
		results = append(results, res)
	}

	if err := printJSON(out, results); err != nil {
		return err
	}
	return errs.ErrorOrNil()
}

func newScheduleGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <regionId>",
		Short: "Show the trigger registration of a region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			reg, err := db.NewScheduleRegistrationRepository(deps.Pool).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if reg == nil {
				return fmt.Errorf("region %s has no schedule registration", args[0])
			}
			return printJSON(cmd.OutOrStdout(), reg)
		},
	}
}

func newScheduleValidateCmd() *cobra.Command {
	var timezone string
	cmd := &cobra.Command{
		Use:   "validate <expression>",
		Short: "Check a schedule expression without contacting any service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := schedule.ValidateExpression(args[0], timezone); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone the expression is evaluated in")
	return cmd
}
