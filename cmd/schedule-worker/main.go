// Package main is the entrypoint for the Schedule Worker Lambda function.
//
// The Schedule Worker consumes the payloads delivered by recurring triggers.
// For each firing it re-reads the region from the registry and, while the
// region is still in scheduled mode, starts one region-wide job for the
// firing time. Firings for deleted or rescheduled regions are acknowledged.
package main

import (
	"context"
	"fmt"
	"os"

	"regionwatch/internal/app"
	"regionwatch/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	deps, err := app.Bootstrap(context.Background(), "schedule-worker")
	if err != nil {
		return err
	}
	defer deps.Close()

	dispatch, err := deps.NewDispatch()
	if err != nil {
		return err
	}

	consumer := deps.NewConsumer("schedule-firings",
		worker.ScheduleFirings(deps.Clients.Regions, dispatch, deps.Logger))

	deps.Logger.Info("Schedule Worker initialized",
		"concurrency", deps.Config.Worker.Concurrency,
		"input_bucket", deps.Config.AWS.InputBucket,
	)
	return deps.ServeSQS(consumer)
}
