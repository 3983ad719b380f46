// Package main is the entrypoint for the Scene Worker Lambda function.
//
// The Scene Worker consumes SceneNotifications. It lists the regions in
// onNewScene mode, keeps those whose bounding geometry intersects the scene
// footprint, and starts their jobs (one per intersecting polygon, or one
// region-wide job for regions without polygons).
//
// A scene that fails for some regions is redelivered as a whole. Targets that
// were already dispatched for the scene are skipped on the retry.
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
	deps, err := app.Bootstrap(context.Background(), "scene-worker")
	if err != nil {
		return err
	}
	defer deps.Close()

	dispatch, err := deps.NewDispatch()
	if err != nil {
		return err
	}

	consumer := deps.NewConsumer("scenes",
		worker.Scenes(deps.Clients.Regions, dispatch, deps.Logger))

	deps.Logger.Info("Scene Worker initialized",
		"concurrency", deps.Config.Worker.Concurrency,
		"dispatch_parallel", deps.Config.Worker.DispatchParallel,
	)
	return deps.ServeSQS(consumer)
}
