// Package main is the entrypoint for the Schedule Manager Lambda function.
//
// The Schedule Manager consumes RegionChangedEvents and keeps one recurring
// trigger per scheduled-mode region in the external trigger service. Each
// trigger fires into the schedule-firings queue consumed by schedule-worker.
//
// Rejected expressions and invalid processing modes cannot be fixed by a
// retry, so those messages are logged and acknowledged. Every other failure
// is reported for redelivery.
package main

import (
	"context"
	"fmt"
	"os"

	"regionwatch/internal/app"
	"regionwatch/internal/types"
	"regionwatch/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	deps, err := app.Bootstrap(context.Background(), "schedule-manager")
	if err != nil {
		return err
	}
	defer deps.Close()

	manager, err := deps.NewScheduleManager()
	if err != nil {
		return err
	}

	consumer := deps.NewConsumer("region-changes", worker.RegionChanges(manager),
		types.ErrCodeInvalidScheduleExpression,
		types.ErrCodeValidationInvalidTimezone,
		types.ErrCodeValidationProcessingMode,
	)

	deps.Logger.Info("Schedule Manager initialized",
		"scheduler_group", deps.Config.Scheduler.GroupName,
		"name_prefix", deps.Config.Scheduler.NamePrefix,
	)
	return deps.ServeSQS(consumer)
}
