package external

import (
	"context"

	"regionwatch/internal/types"
)

// JobEngine submits jobs to the execution engine and reads their state.
type JobEngine interface {
	Submit(ctx context.Context, spec types.JobSpec) (handle string, err error)
	Status(ctx context.Context, priority types.Priority, handle string) (*EngineJobStatus, error)
}

// RegionSource reads the region registry.
type RegionSource interface {
	GetRegion(ctx context.Context, id string) (*types.Region, error)
	ListRegionsByMode(ctx context.Context, mode types.Mode) ([]types.Region, error)
	ListPolygons(ctx context.Context, regionID string) ([]types.Polygon, error)
}

// Compile-time interface compliance checks.
var (
	_ JobEngine    = (*EngineClient)(nil)
	_ JobEngine    = (*StubEngine)(nil)
	_ RegionSource = (*RegionClient)(nil)
	_ RegionSource = (*FixtureRegionSource)(nil)
)
