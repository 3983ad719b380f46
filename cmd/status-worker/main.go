// Package main is the entrypoint for the Status Worker Lambda function.
//
// The Status Worker consumes execution engine status notifications, moves
// the matching job forward and publishes a JobTerminalEvent when the job
// succeeds or fails. Notifications for handles no job carries are logged and
// acknowledged.
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
	deps, err := app.Bootstrap(context.Background(), "status-worker")
	if err != nil {
		return err
	}
	defer deps.Close()

	tracker, err := deps.NewTracker()
	if err != nil {
		return err
	}

	consumer := deps.NewConsumer("job-status", worker.StatusChanges(tracker),
		types.ErrCodeUnknownJob,
	)

	deps.Logger.Info("Status Worker initialized",
		"job_events_queue", deps.Config.AWS.JobEventsQueueURL,
	)
	return deps.ServeSQS(consumer)
}
