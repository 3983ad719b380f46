// Package maintenance runs the periodic housekeeping tasks. A single Lambda
// receives a Payload from an EventBridge rule and routes it by Task; each run
// holds an hourly lock so overlapping invocations of the same task are skipped.
//
// reconcile_jobs sits outside the event-driven core. Nothing in the core
// polls: status changes arrive as notifications. The task is a safety net for
// notifications that never arrived, fired only by its schedule, and it makes
// one pass per invocation. Every status it learns from the engine goes through
// lifecycle.Tracker, so the forward-only transition rules and terminal events
// apply exactly as for a delivered notification.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"regionwatch/internal/external"
	"regionwatch/internal/types"
)

// TaskType names a maintenance task.
type TaskType string

const (
	TaskPurgeDispatchLocks TaskType = "purge_dispatch_locks"
	TaskReconcileJobs      TaskType = "reconcile_jobs"
)

// Payload is the EventBridge input.
type Payload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for replays and backfills.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

const (
	// DefaultStaleAfter is how long a job may go without a status
	// notification before the engine is polled for it.
	DefaultStaleAfter = 20 * time.Minute

	// DefaultCallTimeout bounds each database and engine call.
	DefaultCallTimeout = 10 * time.Second

	defaultReconcileLimit = 100
	lockTTL               = 15 * time.Minute
)

// Locker takes the per-run task lock and purges expired dispatch locks.
type Locker interface {
	Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// StaleJobs lists active jobs that have not been updated since before.
type StaleJobs interface {
	ListActiveBefore(ctx context.Context, before time.Time, limit int) ([]*types.Job, error)
}

// StatusApplier applies an engine status to the stored job.
type StatusApplier interface {
	OnJobStatusChanged(ctx context.Context, msg types.JobStatusMessage) error
}

// Config tunes the handler.
type Config struct {
	StaleAfter     time.Duration
	ReconcileLimit int
	CallTimeout    time.Duration
}

// Handler routes maintenance payloads.
type Handler struct {
	locks    Locker
	jobs     StaleJobs
	engine   external.JobEngine
	tracker  StatusApplier
	cfg      Config
	workerID string
	logger   *slog.Logger
}

// NewHandler creates a Handler. workerID identifies this process as a lock
// holder.
func NewHandler(locks Locker, jobs StaleJobs, engine external.JobEngine, tracker StatusApplier, cfg Config, workerID string, logger *slog.Logger) *Handler {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.ReconcileLimit <= 0 {
		cfg.ReconcileLimit = defaultReconcileLimit
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		locks:    locks,
		jobs:     jobs,
		engine:   engine,
		tracker:  tracker,
		cfg:      cfg,
		workerID: workerID,
		logger:   logger,
	}
}

// Handle runs the task named by payload and returns a one-line summary.
func (h *Handler) Handle(ctx context.Context, payload Payload) (string, error) {
	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	logger := h.logger.With("task", string(payload.Task), "worker_id", h.workerID)
	logger.InfoContext(ctx, "maintenance task invoked", "reference_time", now.Format(time.RFC3339))

	lockID := fmt.Sprintf("maintenance:%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	var acquired bool
	err := h.call(ctx, func(ctx context.Context) (err error) {
		acquired, err = h.locks.Acquire(ctx, lockID, h.workerID, lockTTL)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("acquiring task lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "task lock held by another worker", "lock_id", lockID)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	items, err := h.run(ctx, payload.Task, now)
	if err != nil {
		logger.ErrorContext(ctx, "maintenance task failed", "error", err, "items_before_error", items)
		return "", fmt.Errorf("task %s failed: %w", payload.Task, err)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", payload.Task, items)
	logger.InfoContext(ctx, result, "items", items)
	return result, nil
}

func (h *Handler) run(ctx context.Context, task TaskType, now time.Time) (int, error) {
	switch task {
	case TaskPurgeDispatchLocks:
		var n int64
		err := h.call(ctx, func(ctx context.Context) (err error) {
			n, err = h.locks.PurgeExpired(ctx)
			return err
		})
		return int(n), err
	case TaskReconcileJobs:
		return h.reconcile(ctx, now)
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

// reconcile polls the engine for jobs whose status notifications appear to
// have been lost and applies what it reports. A handle the engine no longer
// knows fails the job.
func (h *Handler) reconcile(ctx context.Context, now time.Time) (int, error) {
	var jobs []*types.Job
	err := h.call(ctx, func(ctx context.Context) (err error) {
		jobs, err = h.jobs.ListActiveBefore(ctx, now.Add(-h.cfg.StaleAfter), h.cfg.ReconcileLimit)
		return err
	})
	if err != nil {
		return 0, err
	}

	var (
		merr    *multierror.Error
		applied int
	)
	for _, job := range jobs {
		msg, err := h.engineStatus(ctx, job)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		if err := h.tracker.OnJobStatusChanged(ctx, msg); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		applied++
	}

	h.logger.InfoContext(ctx, "stale jobs reconciled",
		"candidates", len(jobs),
		"applied", applied,
	)
	return applied, merr.ErrorOrNil()
}

func (h *Handler) engineStatus(ctx context.Context, job *types.Job) (types.JobStatusMessage, error) {
	msg := types.JobStatusMessage{Handle: job.EngineHandle}

	var st *external.EngineJobStatus
	err := h.call(ctx, func(ctx context.Context) (err error) {
		st, err = h.engine.Status(ctx, job.Priority, job.EngineHandle)
		return err
	})
	switch {
	case types.IsCode(err, types.ErrCodeUnknownJob):
		msg.Status = string(types.JobStatusFailed)
		msg.Reason = "engine no longer tracks this job"
		return msg, nil
	case err != nil:
		return msg, err
	}

	msg.Status = st.Status
	msg.Reason = st.Error
	return msg, nil
}

func (h *Handler) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}
