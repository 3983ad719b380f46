// Package main is the entry point for the regionwatch ops API.
//
// The ops API is a small read-only HTTP service for operators: it serves job
// records and schedule registrations straight from the database. It runs as
// a standard HTTP server with graceful shutdown via OS signal interception
// (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"regionwatch/internal/app"
	"regionwatch/internal/core"
	"regionwatch/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	deps, err := app.Bootstrap(context.Background(), "api")
	if err != nil {
		return err
	}
	defer deps.Close()

	cfg := deps.Config
	if err := cfg.RequireAPIToken(); err != nil {
		return err
	}

	srv, err := core.NewServer(
		db.NewJobRepository(deps.Pool),
		db.NewScheduleRegistrationRepository(deps.Pool),
		deps.Logger,
		core.Options{
			APIToken:       cfg.Server.APIToken.Unmask(),
			RequestTimeout: cfg.Server.RequestTimeout,
			HealthProbes:   []core.HealthProbe{core.DatabaseProbe{DB: deps.Pool}},
			Metrics:        deps.Metrics,
		},
	)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)
	go func() {
		deps.Logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		deps.Logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	deps.Logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	deps.Logger.Info("server stopped cleanly")
	return nil
}
