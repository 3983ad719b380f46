// Package core provides the ops HTTP API for regionwatch. It serves a
// read-only view of jobs and schedule registrations over a chi router and
// enforces the cross-cutting concerns (request IDs, logging, panic recovery,
// token auth and error mapping) before requests reach the handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"regionwatch/internal/types"
)

// JobReader reads stored jobs.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*types.Job, error)
	ListByRegion(ctx context.Context, regionID string, limit int) ([]*types.Job, error)
}

// ScheduleReader reads schedule registrations.
type ScheduleReader interface {
	Get(ctx context.Context, regionID string) (*types.ScheduleRegistration, error)
}

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(ctx context.Context, method, route, status string, duration time.Duration)
}

// Options configures a Server.
type Options struct {
	// APIToken, when set, is required as a bearer token on every /v1 route.
	APIToken       string
	RequestTimeout time.Duration
	HealthProbes   []HealthProbe
	Metrics        MetricsCollector
}

// Server holds the dependencies of the ops API.
type Server struct {
	Jobs         JobReader
	Schedules    ScheduleReader
	Logger       *slog.Logger
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	apiToken       string
	requestTimeout time.Duration
	router         *chi.Mux
}

// NewServer validates the dependencies and mounts all routes.
func NewServer(jobs JobReader, schedules ScheduleReader, logger *slog.Logger, opts Options) (*Server, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job reader must not be nil")
	}
	if schedules == nil {
		return nil, fmt.Errorf("schedule reader must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	s := &Server{
		Jobs:           jobs,
		Schedules:      schedules,
		Logger:         logger,
		Metrics:        opts.Metrics,
		HealthProbes:   opts.HealthProbes,
		apiToken:       opts.APIToken,
		requestTimeout: opts.RequestTimeout,
		router:         chi.NewRouter(),
	}
	s.MountRoutes()
	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}
