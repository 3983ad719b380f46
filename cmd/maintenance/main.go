// Package main is the entrypoint for the Maintenance Lambda function.
//
// EventBridge rules invoke it with a maintenance.Payload naming the task:
//
//	{"task": "purge_dispatch_locks"}
//	{"task": "reconcile_jobs"}
//
// With APP_ENV=local the payload is read from stdin instead.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"regionwatch/internal/app"
	"regionwatch/internal/maintenance"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	deps, err := app.Bootstrap(ctx, "maintenance")
	if err != nil {
		return err
	}
	defer deps.Close()

	workerID := "maintenance-" + uuid.NewString()
	handler, err := deps.NewMaintenance(workerID)
	if err != nil {
		return err
	}
	deps.Logger.Info("Maintenance initialized", "worker_id", workerID)

	if deps.Config.Environment == "local" {
		var payload maintenance.Payload
		if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
			return fmt.Errorf("parse stdin as maintenance payload: %w", err)
		}
		result, err := handler.Handle(ctx, payload)
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	}

	lambda.Start(handler.Handle)
	return nil
}
