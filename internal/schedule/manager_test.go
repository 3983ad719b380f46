package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionwatch/internal/types"
)

// --- fakes ---

type fakeTriggers struct {
	mu       sync.Mutex
	triggers map[string]Trigger
	calls    []string

	createErr error
	updateErr error
	deleteErr error
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{triggers: make(map[string]Trigger)}
}

func (f *fakeTriggers) Create(_ context.Context, t Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create:"+t.Name)
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.triggers[t.Name]; ok {
		return ErrTriggerExists
	}
	f.triggers[t.Name] = t
	return nil
}

func (f *fakeTriggers) Update(_ context.Context, t Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update:"+t.Name)
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.triggers[t.Name]; !ok {
		return ErrTriggerNotFound
	}
	f.triggers[t.Name] = t
	return nil
}

func (f *fakeTriggers) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete:"+name)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.triggers[name]; !ok {
		return ErrTriggerNotFound
	}
	delete(f.triggers, name)
	return nil
}

func (f *fakeTriggers) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeStore struct {
	mu     sync.Mutex
	regs   map[string]types.ScheduleRegistration
	writes int
	getErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{regs: make(map[string]types.ScheduleRegistration)}
}

func (s *fakeStore) Get(_ context.Context, regionID string) (*types.ScheduleRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	r, ok := s.regs[regionID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *fakeStore) Upsert(_ context.Context, reg *types.ScheduleRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.regs[reg.RegionID] = *reg
	return nil
}

func (s *fakeStore) Delete(_ context.Context, regionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	delete(s.regs, regionID)
	return nil
}

// --- helpers ---

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *fakeTriggers, *fakeStore) {
	t.Helper()
	triggers := newFakeTriggers()
	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	m := NewManager(triggers, store, Config{NamePrefix: "rw-test"}, types.ClockFunc(func() time.Time { return fixedNow }), logger)
	return m, triggers, store
}

func scheduledRegion(id, expr, tz string) *types.Region {
	return &types.Region{
		ID:      id,
		GroupID: "g1",
		ProcessingConfig: types.ProcessingConfig{
			Mode:               types.ModeScheduled,
			ScheduleExpression: expr,
			ScheduleTimezone:   tz,
		},
	}
}

func withMode(r *types.Region, mode types.Mode) *types.Region {
	c := *r
	c.ProcessingConfig.Mode = mode
	c.ProcessingConfig.ScheduleExpression = ""
	return &c
}

// --- tests ---

func TestOnRegionChanged_ScheduledThenDisabled(t *testing.T) {
	m, triggers, store := newTestManager(t)
	ctx := context.Background()
	r1 := scheduledRegion("r1", "rate(1 month)", "")

	require.NoError(t, m.OnRegionChanged(ctx, nil, r1))
	require.Contains(t, triggers.triggers, "rw-test-r1-schedule")
	reg, _ := store.Get(ctx, "r1")
	require.NotNil(t, reg)
	assert.Equal(t, "rate(1 month)", reg.Expression)
	assert.Equal(t, fixedNow, reg.CreatedAt)

	var payload types.ScheduleFiringMessage
	require.NoError(t, json.Unmarshal(triggers.triggers["rw-test-r1-schedule"].Payload, &payload))
	assert.Equal(t, types.ScheduleFiringMessage{RegionID: "r1", GroupID: "g1", ScheduleDateTime: ScheduledTimeToken}, payload)

	require.NoError(t, m.OnRegionChanged(ctx, r1, withMode(r1, types.ModeDisabled)))
	assert.Empty(t, triggers.triggers)
	reg, _ = store.Get(ctx, "r1")
	assert.Nil(t, reg)
}

func TestOnRegionChanged_Idempotent(t *testing.T) {
	m, triggers, store := newTestManager(t)
	ctx := context.Background()
	r := scheduledRegion("r1", "cron(0 12 * * ? *)", "Australia/Perth")

	require.NoError(t, m.OnRegionChanged(ctx, nil, r))
	require.NoError(t, m.OnRegionChanged(ctx, r, r))
	require.NoError(t, m.OnRegionChanged(ctx, r, r))

	assert.Equal(t, []string{"create:rw-test-r1-schedule"}, triggers.callLog())
	assert.Len(t, triggers.triggers, 1)
	assert.Equal(t, 1, store.writes)
}

func TestOnRegionChanged_UpdatesInPlace(t *testing.T) {
	m, triggers, store := newTestManager(t)
	ctx := context.Background()
	before := scheduledRegion("r1", "rate(1 day)", "")
	after := scheduledRegion("r1", "rate(2 days)", "UTC")

	require.NoError(t, m.OnRegionChanged(ctx, nil, before))
	require.NoError(t, m.OnRegionChanged(ctx, before, after))

	assert.Equal(t, []string{"create:rw-test-r1-schedule", "update:rw-test-r1-schedule"}, triggers.callLog(),
		"an expression change must never delete the trigger")
	assert.Equal(t, "rate(2 days)", triggers.triggers["rw-test-r1-schedule"].Expression)
	reg, _ := store.Get(ctx, "r1")
	assert.Equal(t, "UTC", reg.Timezone)
}

func TestOnRegionChanged_OnlyScheduledRegionsOwnTriggers(t *testing.T) {
	m, triggers, _ := newTestManager(t)
	ctx := context.Background()

	modes := []types.Mode{types.ModeScheduled, types.ModeOnNewScene, types.ModeScheduled, types.ModeDisabled, types.ModeScheduled}
	r := scheduledRegion("r1", "rate(5 minutes)", "")
	var prev *types.Region
	for _, mode := range modes {
		next := r
		if mode != types.ModeScheduled {
			next = withMode(r, mode)
		}
		require.NoError(t, m.OnRegionChanged(ctx, prev, next))
		if mode == types.ModeScheduled {
			assert.Len(t, triggers.triggers, 1)
		} else {
			assert.Empty(t, triggers.triggers)
		}
		prev = next
	}
}

func TestOnRegionChanged_DeletedRegion(t *testing.T) {
	m, triggers, store := newTestManager(t)
	ctx := context.Background()
	r := scheduledRegion("r1", "rate(1 hour)", "")

	require.NoError(t, m.OnRegionChanged(ctx, nil, r))
	require.NoError(t, m.OnRegionChanged(ctx, r, nil))
	assert.Empty(t, triggers.triggers)
	assert.Empty(t, store.regs)

	// Deleting again finds no registration and makes no external call.
	calls := len(triggers.callLog())
	require.NoError(t, m.OnRegionChanged(ctx, r, nil))
	assert.Len(t, triggers.callLog(), calls)

	require.NoError(t, m.OnRegionChanged(ctx, nil, nil))
}

func TestOnRegionChanged_NonScheduledWithoutRegistrationIsNoop(t *testing.T) {
	m, triggers, _ := newTestManager(t)
	r := withMode(scheduledRegion("r9", "", ""), types.ModeOnNewScene)
	require.NoError(t, m.OnRegionChanged(context.Background(), nil, r))
	assert.Empty(t, triggers.callLog())
}

func TestOnRegionChanged_InvalidExpressionLeavesPriorRegistration(t *testing.T) {
	m, triggers, store := newTestManager(t)
	ctx := context.Background()
	good := scheduledRegion("r1", "rate(1 day)", "")
	require.NoError(t, m.OnRegionChanged(ctx, nil, good))

	for _, bad := range []*types.Region{
		scheduledRegion("r1", "rate(often)", ""),
		scheduledRegion("r1", "cron(0 99 * * ? *)", ""),
		scheduledRegion("r1", "rate(1 day)", "Mars/Olympus"),
		scheduledRegion("r1", "", ""),
	} {
		err := m.OnRegionChanged(ctx, good, bad)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrCodeInvalidScheduleExpression), "got %v", err)
	}

	assert.Equal(t, "rate(1 day)", triggers.triggers["rw-test-r1-schedule"].Expression)
	reg, _ := store.Get(ctx, "r1")
	assert.Equal(t, "rate(1 day)", reg.Expression)
	assert.Equal(t, []string{"create:rw-test-r1-schedule"}, triggers.callLog())
}

func TestOnRegionChanged_ServiceRejectsExpression(t *testing.T) {
	m, triggers, store := newTestManager(t)
	ctx := context.Background()
	good := scheduledRegion("r1", "rate(1 day)", "")
	require.NoError(t, m.OnRegionChanged(ctx, nil, good))

	triggers.updateErr = types.NewAppError(types.ErrCodeInvalidScheduleExpression, "rejected by service", nil)
	err := m.OnRegionChanged(ctx, good, scheduledRegion("r1", "cron(0 0 L * ? *)", ""))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInvalidScheduleExpression))

	reg, _ := store.Get(ctx, "r1")
	assert.Equal(t, "rate(1 day)", reg.Expression)
	assert.Equal(t, 1, store.writes)
}

func TestOnRegionChanged_UpstreamFailure(t *testing.T) {
	m, triggers, store := newTestManager(t)
	triggers.createErr = errors.New("throttled")

	err := m.OnRegionChanged(context.Background(), nil, scheduledRegion("r1", "rate(1 day)", ""))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamScheduler))
	assert.Empty(t, store.regs)
}

func TestOnRegionChanged_AdoptsExistingTrigger(t *testing.T) {
	m, triggers, store := newTestManager(t)
	triggers.triggers["rw-test-r1-schedule"] = Trigger{Name: "rw-test-r1-schedule", Expression: "rate(9 days)"}

	require.NoError(t, m.OnRegionChanged(context.Background(), nil, scheduledRegion("r1", "rate(1 day)", "")))
	assert.Equal(t, []string{"create:rw-test-r1-schedule", "update:rw-test-r1-schedule"}, triggers.callLog())
	assert.Equal(t, "rate(1 day)", triggers.triggers["rw-test-r1-schedule"].Expression)
	assert.Len(t, store.regs, 1)
}

func TestOnRegionChanged_RecreatesTriggerMissingExternally(t *testing.T) {
	m, triggers, _ := newTestManager(t)
	ctx := context.Background()
	r := scheduledRegion("r1", "rate(1 day)", "")
	require.NoError(t, m.OnRegionChanged(ctx, nil, r))
	delete(triggers.triggers, "rw-test-r1-schedule")

	require.NoError(t, m.OnRegionChanged(ctx, r, scheduledRegion("r1", "rate(3 days)", "")))
	assert.Equal(t, "rate(3 days)", triggers.triggers["rw-test-r1-schedule"].Expression)
}

func TestOnRegionChanged_DeleteToleratesMissingTrigger(t *testing.T) {
	m, triggers, store := newTestManager(t)
	ctx := context.Background()
	r := scheduledRegion("r1", "rate(1 day)", "")
	require.NoError(t, m.OnRegionChanged(ctx, nil, r))
	delete(triggers.triggers, "rw-test-r1-schedule")

	require.NoError(t, m.OnRegionChanged(ctx, r, withMode(r, types.ModeDisabled)))
	assert.Empty(t, store.regs)
}

func TestOnRegionChanged_StoreFailureAborts(t *testing.T) {
	m, triggers, store := newTestManager(t)
	store.getErr = types.NewAppError(types.ErrCodeInternalDB, "db down", nil)

	err := m.OnRegionChanged(context.Background(), nil, scheduledRegion("r1", "rate(1 day)", ""))
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	assert.Empty(t, triggers.callLog())
}

func TestTriggerName(t *testing.T) {
	m := NewManager(nil, nil, Config{}, nil, nil)
	assert.Equal(t, "abc-schedule", m.TriggerName("abc"))
	m = NewManager(nil, nil, Config{NamePrefix: "agie-prod"}, nil, nil)
	assert.Equal(t, "agie-prod-abc-schedule", m.TriggerName("abc"))
}
