package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"regionwatch/internal/batch"
	"regionwatch/internal/dispatch"
	"regionwatch/internal/geo"
	"regionwatch/internal/schedule"
	"regionwatch/internal/types"
)

// RegionChangeApplier reconciles triggers after a region change.
type RegionChangeApplier interface {
	OnRegionChanged(ctx context.Context, old, newRegion *types.Region) error
}

// RegionSource reads regions from the registry.
type RegionSource interface {
	GetRegion(ctx context.Context, id string) (*types.Region, error)
	ListRegionsByMode(ctx context.Context, mode types.Mode) ([]types.Region, error)
}

// modeInvalidator is implemented by region sources that cache listings by
// mode.
type modeInvalidator interface {
	InvalidateMode(mode types.Mode)
}

// StatusApplier applies engine status changes to stored jobs.
type StatusApplier interface {
	OnJobStatusChanged(ctx context.Context, msg types.JobStatusMessage) error
}

// RegionChanges handles RegionChangedEvents.
func RegionChanges(m RegionChangeApplier) batch.Handler {
	return batch.JSON(func(ctx context.Context, _ batch.Message, ev types.RegionChangedEvent) error {
		old, newRegion := ev.Old, ev.New
		if ev.EventType == types.RegionDeleted {
			if old == nil {
				old = newRegion
			}
			newRegion = nil
		}
		if old == nil && newRegion == nil {
			return types.NewAppError(types.ErrCodeMalformedMessage, "region change carries no region", nil)
		}
		return m.OnRegionChanged(ctx, old, newRegion)
	})
}

// ScheduleFirings handles trigger firings. Firings for regions that no longer
// exist or are no longer scheduled are acknowledged without dispatching.
func ScheduleFirings(regions RegionSource, d *Dispatch, logger *slog.Logger) batch.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return batch.JSON(func(ctx context.Context, msg batch.Message, f types.ScheduleFiringMessage) error {
		firedAt, err := firingTime(f, msg)
		if err != nil {
			return err
		}
		logger := logger.With("region_id", f.RegionID, "schedule_date_time", firedAt)

		region, err := regions.GetRegion(ctx, f.RegionID)
		if types.IsCode(err, types.ErrCodeNotFoundRegion) {
			logger.WarnContext(ctx, "firing for unknown region dropped")
			return nil
		}
		if err != nil {
			return err
		}

		mode, err := region.ProcessingConfig.Variant()
		if err != nil {
			logger.WarnContext(ctx, "firing for region with invalid processing config dropped", "error", err)
			return nil
		}
		if _, ok := mode.(types.Scheduled); !ok {
			logger.InfoContext(ctx, "firing for region no longer scheduled dropped",
				"mode", string(region.ProcessingConfig.Mode))
			return nil
		}

		jobs, err := d.Start(ctx, *region, dispatch.ScheduleTrigger{ScheduleDateTime: firedAt})
		logger.InfoContext(ctx, "schedule firing dispatched", "jobs", len(jobs))
		return err
	})
}

// firingTime prefers the time carried in the payload and falls back to the
// queue's SentTimestamp when the trigger service did not fill it in.
func firingTime(f types.ScheduleFiringMessage, msg batch.Message) (time.Time, error) {
	if raw := f.ScheduleDateTime; raw != "" && raw != schedule.ScheduledTimeToken {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, types.NewAppError(types.ErrCodeMalformedMessage,
				fmt.Sprintf("invalid scheduleDateTime %q", raw), err)
		}
		return t.UTC().Truncate(time.Second), nil
	}
	if sent, ok := msg.SentAt(); ok {
		return sent.Truncate(time.Minute), nil
	}
	return time.Time{}, types.NewAppError(types.ErrCodeMalformedMessage, "firing carries no schedule time", nil)
}

// Scenes handles scene notifications. Every matching region is dispatched;
// when any fails the message is redelivered and regions already dispatched
// are skipped on the next attempt.
//
// The mode listing may be cached, so each matched region is read again before
// dispatch. A region that is gone, no longer onNewScene or no longer covers
// the scene is skipped, and the cached listing is dropped. Jobs snapshot the
// fresh region.
func Scenes(regions RegionSource, d *Dispatch, logger *slog.Logger) batch.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return batch.JSON(func(ctx context.Context, _ batch.Message, n types.SceneNotification) error {
		if _, err := n.Footprint(); err != nil {
			return types.NewAppError(types.ErrCodeMalformedMessage, "scene has no usable footprint", err)
		}

		candidates, err := regions.ListRegionsByMode(ctx, types.ModeOnNewScene)
		if err != nil {
			return err
		}
		matched := geo.Match(n, candidates)
		logger.InfoContext(ctx, "scene matched",
			"scene_id", n.ID,
			"collection", n.Collection,
			"candidates", len(candidates),
			"matched", len(matched),
		)

		var (
			merr  *multierror.Error
			stale bool
		)
		for _, listed := range matched {
			region, err := currentMatch(ctx, regions, n, listed.ID)
			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("region %s: %w", listed.ID, err))
				continue
			}
			if region == nil {
				stale = true
				logger.InfoContext(ctx, "region changed since listing, scene skipped",
					"scene_id", n.ID,
					"region_id", listed.ID,
				)
				continue
			}
			if _, err := d.Start(ctx, *region, dispatch.SceneTrigger{Notification: n}); err != nil {
				merr = multierror.Append(merr, fmt.Errorf("region %s: %w", region.ID, err))
			}
		}
		if inv, ok := regions.(modeInvalidator); ok && stale {
			inv.InvalidateMode(types.ModeOnNewScene)
		}
		if merr == nil {
			return nil
		}
		code := types.CodeOf(merr.Errors[0])
		if code == "" {
			code = types.ErrCodeJobSubmissionFailed
		}
		return types.NewAppErrorWithDetails(code,
			fmt.Sprintf("%d of %d regions failed to dispatch", len(merr.Errors), len(matched)),
			merr.ErrorOrNil(),
			map[string]any{"sceneId": n.ID},
		)
	})
}

// currentMatch re-reads region id and returns it when it still matches n, or
// nil when it was deleted or no longer matches.
func currentMatch(ctx context.Context, regions RegionSource, n types.SceneNotification, id string) (*types.Region, error) {
	region, err := regions.GetRegion(ctx, id)
	if types.IsCode(err, types.ErrCodeNotFoundRegion) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(geo.Match(n, []types.Region{*region})) == 0 {
		return nil, nil
	}
	return region, nil
}

// statusBody accepts the canonical JobStatusMessage, the engine webhook body
// and the detail of a "Batch Job State Change" event.
type statusBody struct {
	Handle       string `json:"handle"`
	ID           string `json:"id"`
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	StatusReason string `json:"statusReason"`
	Error        string `json:"error"`
}

func (b statusBody) message() types.JobStatusMessage {
	return types.JobStatusMessage{
		Handle: firstNonEmpty(b.Handle, b.JobID, b.ID),
		Status: b.Status,
		Reason: firstNonEmpty(b.Reason, b.StatusReason, b.Error),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// StatusChanges handles engine status notifications.
func StatusChanges(t StatusApplier) batch.Handler {
	return batch.JSON(func(ctx context.Context, _ batch.Message, b statusBody) error {
		msg := b.message()
		if msg.Handle == "" || msg.Status == "" {
			raw, _ := json.Marshal(b)
			return types.NewAppError(types.ErrCodeMalformedMessage,
				fmt.Sprintf("status change needs a job handle and a status: %s", raw), nil)
		}
		return t.OnJobStatusChanged(ctx, msg)
	})
}
