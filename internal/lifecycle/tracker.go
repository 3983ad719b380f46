// Package lifecycle applies execution engine status notifications to stored
// jobs.
//
// Notifications arrive at least once and in any order. The Tracker therefore
// only ever moves a job forward, applies each move with a compare-and-set
// against the stored status, and absorbs duplicate, stale and unrecognised
// notifications instead of failing. Reaching a terminal state is the only
// point at which a JobTerminalEvent is published.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"regionwatch/internal/types"
)

// JobStore is the job persistence the Tracker needs. GetByHandle returns nil,
// nil when no job carries the handle. CompareAndSetStatus reports false when
// the stored status no longer equals from.
type JobStore interface {
	GetByHandle(ctx context.Context, handle string) (*types.Job, error)
	CompareAndSetStatus(ctx context.Context, jobID string, from, to types.JobStatus, reason string, at time.Time) (bool, error)
	MarkNotified(ctx context.Context, jobID string, at time.Time) error
}

// EventPublisher delivers terminal events to the notification sink.
type EventPublisher interface {
	PublishTerminal(ctx context.Context, ev types.JobTerminalEvent) error
}

// MetricRecorder receives a counter per applied transition.
type MetricRecorder interface {
	RecordTransition(ctx context.Context, from, to types.JobStatus)
}

// DefaultCallTimeout bounds each store and publisher call.
const DefaultCallTimeout = 10 * time.Second

// maxAttempts bounds compare-and-set retries after losing a race.
const maxAttempts = 3

// Tracker applies status notifications.
type Tracker struct {
	store       JobStore
	publisher   EventPublisher
	metrics     MetricRecorder
	clock       types.Clock
	callTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMetrics records transition counters.
func WithMetrics(m MetricRecorder) Option { return func(t *Tracker) { t.metrics = m } }

// WithClock replaces the system clock.
func WithClock(c types.Clock) Option { return func(t *Tracker) { t.clock = c } }

// WithCallTimeout replaces DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.callTimeout = d
		}
	}
}

// NewTracker creates a Tracker.
func NewTracker(store JobStore, publisher EventPublisher, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:       store,
		publisher:   publisher,
		clock:       types.RealClock{},
		callTimeout: DefaultCallTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnJobStatusChanged applies one notification.
//
// It fails with UnknownJob when no job carries the handle. Unrecognised
// statuses, backward or repeated moves and anything arriving after a
// terminal state are logged and ignored. Store and publisher failures are
// returned so the notification is redelivered.
func (t *Tracker) OnJobStatusChanged(ctx context.Context, msg types.JobStatusMessage) error {
	logger := t.logger.With("engine_handle", msg.Handle, "engine_status", msg.Status)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		job, err := t.lookup(ctx, msg.Handle)
		if err != nil {
			return err
		}
		if job == nil {
			return types.NewAppErrorWithDetails(types.ErrCodeUnknownJob,
				"no job is tracked for this engine handle", nil,
				map[string]any{"handle": msg.Handle, "status": msg.Status})
		}
		logger := logger.With("job_id", job.ID, "region_id", job.RegionID)

		to, ok := MapEngineStatus(msg.Status)
		if !ok {
			logger.WarnContext(ctx, "unrecognized engine status ignored")
			return nil
		}

		if job.Status.Terminal() {
			if job.NotifiedAt == nil {
				logger.InfoContext(ctx, "re-publishing pending terminal event", "status", string(job.Status))
				return t.notify(ctx, job)
			}
			logger.InfoContext(ctx, "status for finished job discarded",
				"stored_status", string(job.Status),
				"reported_status", string(to),
			)
			return nil
		}
		if !CanTransition(job.Status, to) {
			logger.DebugContext(ctx, "stale status ignored",
				"stored_status", string(job.Status),
				"reported_status", string(to),
			)
			return nil
		}

		now := t.clock.Now()
		applied, err := t.compareAndSet(ctx, job.ID, job.Status, to, msg.Reason, now)
		if err != nil {
			return err
		}
		if !applied {
			logger.DebugContext(ctx, "concurrent status update, re-reading job", "attempt", attempt+1)
			continue
		}

		from := job.Status
		job.Status = to
		if msg.Reason != "" {
			job.StatusReason = msg.Reason
		}
		job.UpdatedAt = now
		if t.metrics != nil {
			t.metrics.RecordTransition(ctx, from, to)
		}
		logger.InfoContext(ctx, "job status changed",
			"from", string(from),
			"to", string(to),
			"reason", msg.Reason,
		)

		if to.Terminal() {
			return t.notify(ctx, job)
		}
		return nil
	}

	return types.NewAppError(types.ErrCodeConflictConcurrent,
		"job status kept changing while applying notification", nil)
}

func (t *Tracker) lookup(ctx context.Context, handle string) (*types.Job, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()
	return t.store.GetByHandle(callCtx, handle)
}

func (t *Tracker) compareAndSet(ctx context.Context, jobID string, from, to types.JobStatus, reason string, at time.Time) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()
	return t.store.CompareAndSetStatus(callCtx, jobID, from, to, reason, at)
}

// notify publishes the terminal event and then marks the job notified. If
// the publish fails the job stays un-notified and the next delivery of any
// notification for it publishes again.
func (t *Tracker) notify(ctx context.Context, job *types.Job) error {
	ev := types.JobTerminalEvent{
		JobID:      job.ID,
		RegionID:   job.RegionID,
		GroupID:    job.GroupID,
		PolygonID:  job.PolygonID,
		Status:     job.Status,
		Reason:     job.StatusReason,
		OccurredAt: job.UpdatedAt,
	}

	pubCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	err := t.publisher.PublishTerminal(pubCtx, ev)
	cancel()
	if err != nil {
		if types.CodeOf(err) == "" {
			err = types.NewAppError(types.ErrCodeUpstreamQueue, "failed to publish terminal event", err)
		}
		return err
	}

	markCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()
	if err := t.store.MarkNotified(markCtx, job.ID, t.clock.Now()); err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "terminal event published",
		"job_id", job.ID,
		"region_id", job.RegionID,
		"status", string(job.Status),
	)
	return nil
}
