package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"regionwatch/internal/schedule"
	"regionwatch/internal/types"
)

// ---------------------------------------------------------------------------
// Stub implementations let the workers boot with APP_ENV=local or
// IS_TEST_MODE without credentials. They log every call and return
// predictable values.
// ---------------------------------------------------------------------------

// StubEngine accepts every job and hands out random handles.
type StubEngine struct {
	logger *slog.Logger

	mu        sync.Mutex
	submitted map[string]types.JobSpec
}

func NewStubEngine(logger *slog.Logger) *StubEngine {
	return &StubEngine{logger: logger, submitted: make(map[string]types.JobSpec)}
}

func (s *StubEngine) Submit(ctx context.Context, spec types.JobSpec) (string, error) {
	handle := "stub-" + uuid.NewString()
	s.mu.Lock()
	s.submitted[handle] = spec
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "stub: Submit called",
		"job_id", spec.JobID,
		"region_id", spec.RegionID,
		"polygon_id", spec.PolygonID,
		"engine_handle", handle,
	)
	return handle, nil
}

func (s *StubEngine) Status(ctx context.Context, _ types.Priority, handle string) (*EngineJobStatus, error) {
	s.mu.Lock()
	_, ok := s.submitted[handle]
	s.mu.Unlock()
	if !ok {
		return nil, types.NewAppError(types.ErrCodeUnknownJob, "stub engine has no such job", nil)
	}
	return &EngineJobStatus{ID: handle, Status: "IN_QUEUE"}, nil
}

// StubTriggerService keeps triggers in memory with the same exists and
// not-found semantics as the real service.
type StubTriggerService struct {
	logger *slog.Logger

	mu       sync.Mutex
	triggers map[string]schedule.Trigger
}

func NewStubTriggerService(logger *slog.Logger) *StubTriggerService {
	return &StubTriggerService{logger: logger, triggers: make(map[string]schedule.Trigger)}
}

func (s *StubTriggerService) Create(ctx context.Context, t schedule.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.Name]; ok {
		return schedule.ErrTriggerExists
	}
	s.triggers[t.Name] = t
	s.logger.InfoContext(ctx, "stub: Create trigger", "trigger_name", t.Name, "expression", t.Expression)
	return nil
}

func (s *StubTriggerService) Update(ctx context.Context, t schedule.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.Name]; !ok {
		return schedule.ErrTriggerNotFound
	}
	s.triggers[t.Name] = t
	s.logger.InfoContext(ctx, "stub: Update trigger", "trigger_name", t.Name, "expression", t.Expression)
	return nil
}

func (s *StubTriggerService) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[name]; !ok {
		return schedule.ErrTriggerNotFound
	}
	delete(s.triggers, name)
	s.logger.InfoContext(ctx, "stub: Delete trigger", "trigger_name", name)
	return nil
}

// RegionFixture is the on-disk format read by FixtureRegionSource.
type RegionFixture struct {
	Regions  []types.Region             `json:"regions"`
	Polygons map[string][]types.Polygon `json:"polygons"`
}

// FixtureRegionSource serves regions from a fixture instead of the registry.
type FixtureRegionSource struct {
	regions  map[string]types.Region
	order    []string
	polygons map[string][]types.Polygon
}

// NewFixtureRegionSource builds a source from an in-memory fixture.
func NewFixtureRegionSource(f RegionFixture) *FixtureRegionSource {
	src := &FixtureRegionSource{
		regions:  make(map[string]types.Region, len(f.Regions)),
		polygons: f.Polygons,
	}
	for _, r := range f.Regions {
		if _, dup := src.regions[r.ID]; !dup {
			src.order = append(src.order, r.ID)
		}
		src.regions[r.ID] = r
	}
	if src.polygons == nil {
		src.polygons = make(map[string][]types.Polygon)
	}
	return src
}

// LoadFixtureRegionSource reads a RegionFixture JSON file. An empty path
// yields an empty source.
func LoadFixtureRegionSource(path string) (*FixtureRegionSource, error) {
	if path == "" {
		return NewFixtureRegionSource(RegionFixture{}), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region fixture: %w", err)
	}
	var f RegionFixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse region fixture %s: %w", path, err)
	}
	return NewFixtureRegionSource(f), nil
}

func (s *FixtureRegionSource) GetRegion(_ context.Context, id string) (*types.Region, error) {
	r, ok := s.regions[id]
	if !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundRegion, "region not found", nil,
			map[string]any{"regionId": id})
	}
	return &r, nil
}

func (s *FixtureRegionSource) ListRegionsByMode(_ context.Context, mode types.Mode) ([]types.Region, error) {
	out := make([]types.Region, 0)
	for _, id := range s.order {
		if r := s.regions[id]; r.ProcessingConfig.Mode == mode {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *FixtureRegionSource) ListPolygons(_ context.Context, regionID string) ([]types.Polygon, error) {
	return append([]types.Polygon{}, s.polygons[regionID]...), nil
}
