// Package app holds the cold-start wiring shared by the regionwatch binaries.
//
// Every binary follows the same sequence:
//  1. Load configuration (env, .env, SSM).
//  2. Initialize the structured logger.
//  3. Load the AWS SDK configuration.
//  4. Open the database pool, migrating first when DB_MIGRATE_ON_START is set.
//  5. Build the external clients (real or stub) and the metric recorder.
//
// The per-binary constructors below then assemble the domain components from
// those dependencies.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"regionwatch/internal/config"
	"regionwatch/internal/db"
	"regionwatch/internal/dispatch"
	"regionwatch/internal/external"
	"regionwatch/internal/lifecycle"
	"regionwatch/internal/maintenance"
	"regionwatch/internal/metrics"
	"regionwatch/internal/queue"
	"regionwatch/internal/schedule"
	"regionwatch/internal/staging"
	"regionwatch/internal/worker"
)

// Deps are the process-wide dependencies created at cold start.
type Deps struct {
	Config  *config.Config
	Logger  *slog.Logger
	AWS     aws.Config
	Pool    *pgxpool.Pool
	Clients *external.ClientRegistry
	Metrics metrics.Recorder
}

// BootstrapOption adjusts Bootstrap.
type BootstrapOption func(*bootstrapOptions)

type bootstrapOptions struct {
	logOutput io.Writer
}

// WithLogOutput sends logs to w instead of stdout. CLIs use it to keep
// stdout for command output.
func WithLogOutput(w io.Writer) BootstrapOption {
	return func(o *bootstrapOptions) { o.logOutput = w }
}

// Bootstrap loads configuration and opens every shared dependency for the
// binary called name.
func Bootstrap(ctx context.Context, name string, opts ...BootstrapOption) (*Deps, error) {
	o := bootstrapOptions{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := NewLogger(o.logOutput, cfg.LogLevel).With(
		"service", cfg.Service,
		"component", name,
		"environment", cfg.Environment,
	)
	logger.Info("initializing (cold start)",
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"stub_mode", cfg.UseStubs(),
	)

	awsCfg, err := cfg.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.Database.MigrateOnStart {
		if err := db.MigrateUp(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	clients, err := external.NewClientRegistry(cfg, awsCfg, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("building external clients: %w", err)
	}

	return &Deps{
		Config:  cfg,
		Logger:  logger,
		AWS:     awsCfg,
		Pool:    pool,
		Clients: clients,
		Metrics: newRecorder(cfg, awsCfg, logger),
	}, nil
}

// Close releases the database pool.
func (d *Deps) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}

// NewLogger creates a JSON slog.Logger writing to w at the given level.
// Unknown levels fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newRecorder(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) metrics.Recorder {
	if cfg.UseStubs() || !cfg.Observability.EnableMetrics {
		return metrics.Nop{}
	}
	return metrics.NewCloudWatchRecorder(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		logger.With("client", "cloudwatch"),
	)
}

// NewScheduleManager builds the Manager used by the schedule-manager binary.
func (d *Deps) NewScheduleManager() (*schedule.Manager, error) {
	if err := d.Config.RequireScheduler(); err != nil {
		return nil, err
	}
	if d.Clients.Triggers == nil {
		return nil, fmt.Errorf("trigger service is not configured")
	}
	return schedule.NewManager(
		d.Clients.Triggers,
		db.NewScheduleRegistrationRepository(d.Pool),
		schedule.Config{
			NamePrefix:  d.Config.Scheduler.NamePrefix,
			CallTimeout: d.Config.Timeouts.Call,
		},
		nil,
		d.Logger,
	), nil
}

// NewDispatch builds the idempotent dispatch path used by the schedule and
// scene workers.
func (d *Deps) NewDispatch() (*worker.Dispatch, error) {
	if err := d.Config.RequireEngine(); err != nil {
		return nil, err
	}
	if err := d.Config.RequireRegistry(); err != nil {
		return nil, err
	}
	if d.Clients.Engine == nil || d.Clients.Regions == nil {
		return nil, fmt.Errorf("engine and region registry must both be configured")
	}

	jobs := db.NewJobRepository(d.Pool)
	opts := []dispatch.Option{
		dispatch.WithPolygons(d.Clients.Regions),
		dispatch.WithMetrics(d.Metrics),
	}
	if stager := d.NewStager(); stager != nil {
		opts = append(opts, dispatch.WithStager(stager))
	}

	dispatcher := dispatch.New(d.Clients.Engine, jobs, dispatch.Config{
		SubmitTimeout: d.Config.Engine.SubmitTimeout,
		CallTimeout:   d.Config.Timeouts.Call,
		MaxParallel:   d.Config.Worker.DispatchParallel,
	}, d.Logger, opts...)

	return worker.NewDispatch(dispatcher, jobs, db.NewLockRepository(d.Pool), d.Config.Worker.LockTTL, d.Logger,
		worker.WithCallTimeout(d.Config.Timeouts.Call),
	), nil
}

// NewStager returns the input stager, or nil when staging is disabled.
func (d *Deps) NewStager() *staging.S3Stager {
	if d.Config.UseStubs() || d.Config.AWS.InputBucket == "" {
		return nil
	}
	return staging.NewS3Stager(s3.NewFromConfig(d.AWS), staging.Config{
		Bucket:   d.Config.AWS.InputBucket,
		Prefix:   d.Config.AWS.InputPrefix,
		Compress: d.Config.AWS.InputCompress,
	}, d.Logger.With("client", "s3"))
}

// NewTracker builds the lifecycle Tracker used by the status worker.
func (d *Deps) NewTracker() (*lifecycle.Tracker, error) {
	if err := d.Config.RequireJobEvents(); err != nil {
		return nil, err
	}

	var publisher lifecycle.EventPublisher
	if d.Config.UseStubs() {
		publisher = queue.NewLogPublisher(d.Logger)
	} else {
		publisher = queue.NewTerminalEventPublisher(sqs.NewFromConfig(d.AWS), d.Config.AWS.JobEventsQueueURL, d.Logger)
	}

	return lifecycle.NewTracker(db.NewJobRepository(d.Pool), publisher, d.Logger,
		lifecycle.WithMetrics(d.Metrics),
		lifecycle.WithCallTimeout(d.Config.Timeouts.Call),
	), nil
}

// NewMaintenance builds the maintenance task handler. Reconciliation reuses
// the tracker, so the job events queue must be configured.
func (d *Deps) NewMaintenance(workerID string) (*maintenance.Handler, error) {
	if err := d.Config.RequireEngine(); err != nil {
		return nil, err
	}
	if d.Clients.Engine == nil {
		return nil, fmt.Errorf("engine is not configured")
	}
	tracker, err := d.NewTracker()
	if err != nil {
		return nil, err
	}
	return maintenance.NewHandler(
		db.NewLockRepository(d.Pool),
		db.NewJobRepository(d.Pool),
		d.Clients.Engine,
		tracker,
		maintenance.Config{
			StaleAfter:     d.Config.Worker.StaleJobAfter,
			ReconcileLimit: d.Config.Worker.ReconcileLimit,
			CallTimeout:    d.Config.Timeouts.Call,
		},
		workerID,
		d.Logger,
	), nil
}
