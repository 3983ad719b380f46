// Package schedule keeps each region's recurring trigger in line with its
// processing mode.
//
// A region in scheduled mode owns exactly one trigger in the external trigger
// service; every other mode owns none. The Manager is driven only by region
// change notifications and records what it registered in a RegistrationStore
// so that replaying a notification costs no external calls.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"regionwatch/internal/types"
)

// ScheduledTimeToken is replaced by the trigger service with the scheduled
// firing time when it delivers the payload.
const ScheduledTimeToken = "<aws.scheduler.scheduled-time>"

// DefaultCallTimeout bounds every trigger service and store call.
const DefaultCallTimeout = 10 * time.Second

var (
	// ErrTriggerExists is returned by TriggerService.Create when a trigger
	// with the same name already exists.
	ErrTriggerExists = errors.New("trigger already exists")
	// ErrTriggerNotFound is returned by Update and Delete for unknown names.
	ErrTriggerNotFound = errors.New("trigger not found")
)

// Trigger is the full definition of one recurring trigger.
type Trigger struct {
	Name       string
	Expression string
	Timezone   string
	Payload    []byte
}

// TriggerService is the external recurring trigger service. Update replaces
// the whole trigger definition in one call. Implementations report a
// rejected expression as InvalidScheduleExpression.
type TriggerService interface {
	Create(ctx context.Context, t Trigger) error
	Update(ctx context.Context, t Trigger) error
	Delete(ctx context.Context, name string) error
}

// RegistrationStore persists the registration owned for each region. Get
// returns nil, nil when the region has none.
type RegistrationStore interface {
	Get(ctx context.Context, regionID string) (*types.ScheduleRegistration, error)
	Upsert(ctx context.Context, reg *types.ScheduleRegistration) error
	Delete(ctx context.Context, regionID string) error
}

// Config configures a Manager.
type Config struct {
	// NamePrefix is prepended to trigger names, e.g. "regionwatch-prod".
	NamePrefix  string
	CallTimeout time.Duration
}

// Manager applies region changes to the trigger service.
type Manager struct {
	triggers TriggerService
	store    RegistrationStore
	cfg      Config
	clock    types.Clock
	logger   *slog.Logger
}

// NewManager creates a Manager. A nil logger uses slog.Default().
func NewManager(triggers TriggerService, store RegistrationStore, cfg Config, clock types.Clock, logger *slog.Logger) *Manager {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		triggers: triggers,
		store:    store,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// TriggerName returns the name of the trigger owned by regionID.
func (m *Manager) TriggerName(regionID string) string {
	if m.cfg.NamePrefix == "" {
		return regionID + "-schedule"
	}
	return fmt.Sprintf("%s-%s-schedule", m.cfg.NamePrefix, regionID)
}

// OnRegionChanged reconciles the trigger of a region after it was created
// (old is nil), updated, or deleted (newRegion is nil).
//
// Errors abort the single mutation and leave the prior registration in place.
// An expression rejected locally or by the trigger service yields
// InvalidScheduleExpression.
func (m *Manager) OnRegionChanged(ctx context.Context, old, newRegion *types.Region) error {
	if newRegion == nil {
		if old == nil {
			return nil
		}
		return m.deregister(ctx, old.ID)
	}

	mode, err := newRegion.ProcessingConfig.Variant()
	if err != nil {
		return err
	}
	switch v := mode.(type) {
	case types.Scheduled:
		return m.register(ctx, *newRegion, v)
	case types.OnNewScene, types.Disabled:
		return m.deregister(ctx, newRegion.ID)
	default:
		return types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("unhandled processing mode %T", mode), nil)
	}
}

// Registration returns the registration owned by regionID, or nil.
func (m *Manager) Registration(ctx context.Context, regionID string) (*types.ScheduleRegistration, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return m.store.Get(callCtx, regionID)
}

func (m *Manager) register(ctx context.Context, region types.Region, s types.Scheduled) error {
	logger := m.logger.With("region_id", region.ID)

	if err := ValidateExpression(s.Expression, s.Timezone); err != nil {
		logger.WarnContext(ctx, "schedule expression rejected", "expression", s.Expression, "timezone", s.Timezone, "error", err)
		return err
	}

	existing, err := m.Registration(ctx, region.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Expression == s.Expression && existing.Timezone == s.Timezone {
		logger.DebugContext(ctx, "schedule unchanged", "trigger", existing.TriggerName)
		return nil
	}

	payload, err := json.Marshal(types.ScheduleFiringMessage{
		RegionID:         region.ID,
		GroupID:          region.GroupID,
		ScheduleDateTime: ScheduledTimeToken,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode trigger payload", err)
	}
	t := Trigger{
		Name:       m.TriggerName(region.ID),
		Expression: s.Expression,
		Timezone:   s.Timezone,
		Payload:    payload,
	}

	action := "created"
	if existing == nil {
		err = m.call(ctx, func(c context.Context) error { return m.triggers.Create(c, t) })
		if errors.Is(err, ErrTriggerExists) {
			// Left behind by a run that failed before the store write.
			action = "adopted"
			err = m.call(ctx, func(c context.Context) error { return m.triggers.Update(c, t) })
		}
	} else {
		action = "updated"
		err = m.call(ctx, func(c context.Context) error { return m.triggers.Update(c, t) })
		if errors.Is(err, ErrTriggerNotFound) {
			action = "recreated"
			err = m.call(ctx, func(c context.Context) error { return m.triggers.Create(c, t) })
		}
	}
	if err != nil {
		return schedulerError("failed to register trigger", err)
	}

	now := m.clock.Now()
	reg := &types.ScheduleRegistration{
		RegionID:    region.ID,
		TriggerName: t.Name,
		Expression:  s.Expression,
		Timezone:    s.Timezone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing != nil {
		reg.CreatedAt = existing.CreatedAt
	}
	if err := m.call(ctx, func(c context.Context) error { return m.store.Upsert(c, reg) }); err != nil {
		return err
	}

	logger.InfoContext(ctx, "schedule "+action,
		"trigger", t.Name,
		"expression", s.Expression,
		"timezone", s.Timezone,
	)
	return nil
}

func (m *Manager) deregister(ctx context.Context, regionID string) error {
	existing, err := m.Registration(ctx, regionID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	err = m.call(ctx, func(c context.Context) error { return m.triggers.Delete(c, existing.TriggerName) })
	if err != nil && !errors.Is(err, ErrTriggerNotFound) {
		return schedulerError("failed to delete trigger", err)
	}
	if err := m.call(ctx, func(c context.Context) error { return m.store.Delete(c, regionID) }); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "schedule deleted", "region_id", regionID, "trigger", existing.TriggerName)
	return nil
}

func (m *Manager) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// schedulerError keeps AppErrors from the trigger service and classifies
// anything else as an upstream failure.
func schedulerError(msg string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamScheduler, msg, err)
}
