// Package worker wires the batch consumers to the domain components. Each
// exported constructor returns a batch.Handler for one inbound queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"regionwatch/internal/dispatch"
	"regionwatch/internal/types"
)

// JobStarter starts the jobs of one region for one trigger.
type JobStarter interface {
	StartJob(ctx context.Context, region types.Region, trigger dispatch.Trigger) ([]*types.Job, error)
}

// DispatchLedger reports which targets a trigger already dispatched.
type DispatchLedger interface {
	ListTriggerPolygons(ctx context.Context, regionID string, kind types.TriggerKind, key string) ([]string, error)
}

// Locker serializes concurrent deliveries of the same trigger.
type Locker interface {
	Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, holder string) error
}

const (
	// DefaultLockTTL bounds how long a crashed worker can block a trigger.
	DefaultLockTTL = 2 * time.Minute

	// DefaultCallTimeout bounds each lock and ledger call.
	DefaultCallTimeout = 10 * time.Second
)

// Dispatch starts jobs at most once per (region, trigger, target). Deliveries
// of a trigger that was already partly dispatched only submit the remaining
// targets.
type Dispatch struct {
	starter JobStarter
	ledger  DispatchLedger
	locks   Locker
	holder  string
	lockTTL time.Duration
	logger  *slog.Logger

	callTimeout time.Duration
}

// DispatchOption configures a Dispatch.
type DispatchOption func(*Dispatch)

// WithCallTimeout bounds each lock and ledger call.
func WithCallTimeout(d time.Duration) DispatchOption {
	return func(disp *Dispatch) {
		if d > 0 {
			disp.callTimeout = d
		}
	}
}

// NewDispatch creates a Dispatch. ledger and locks may be nil, in which case
// every delivery dispatches all targets.
func NewDispatch(starter JobStarter, ledger DispatchLedger, locks Locker, lockTTL time.Duration, logger *slog.Logger, opts ...DispatchOption) *Dispatch {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatch{
		starter:     starter,
		ledger:      ledger,
		locks:       locks,
		holder:      uuid.NewString(),
		lockTTL:     lockTTL,
		logger:      logger,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start dispatches trigger for region, skipping targets recorded for the
// same trigger key.
func (d *Dispatch) Start(ctx context.Context, region types.Region, trigger dispatch.Trigger) ([]*types.Job, error) {
	key := trigger.Key()
	lockID := fmt.Sprintf("%s:%s:%s", trigger.Kind(), region.ID, key)

	if d.locks != nil {
		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		ok, err := d.locks.Acquire(callCtx, lockID, d.holder, d.lockTTL)
		cancel()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictConcurrent,
				"trigger is being dispatched by another worker", nil,
				map[string]any{"lockId": lockID})
		}
		defer func() {
			// The lock is released even when ctx is already done, but never
			// waits longer than one call.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.callTimeout)
			defer cancel()
			if err := d.locks.Release(releaseCtx, lockID, d.holder); err != nil {
				d.logger.WarnContext(ctx, "failed to release dispatch lock", "lock_id", lockID, "error", err)
			}
		}()
	}

	if d.ledger != nil {
		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		done, err := d.ledger.ListTriggerPolygons(callCtx, region.ID, trigger.Kind(), key)
		cancel()
		if err != nil {
			return nil, err
		}
		if len(done) > 0 {
			d.logger.InfoContext(ctx, "trigger partly dispatched already",
				"region_id", region.ID,
				"trigger_key", key,
				"dispatched", len(done),
			)
			trigger = withSkip(trigger, mapset.NewThreadUnsafeSet(done...))
		}
	}

	return d.starter.StartJob(ctx, region, trigger)
}

func withSkip(t dispatch.Trigger, skip mapset.Set[string]) dispatch.Trigger {
	switch tr := t.(type) {
	case dispatch.ScheduleTrigger:
		tr.Skip = skip
		return tr
	case dispatch.SceneTrigger:
		tr.Skip = skip
		return tr
	}
	return t
}
