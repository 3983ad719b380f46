package geo

import (
	"regionwatch/internal/types"
)

// Match returns the regions whose bounding geometry intersects the scene
// footprint and whose processing mode is onNewScene. Regions with an invalid
// processing configuration never match. The result is never nil and carries
// no ordering guarantee.
func Match(n types.SceneNotification, regions []types.Region) []types.Region {
	matched := make([]types.Region, 0)
	footprint, err := n.Footprint()
	if err != nil {
		return matched
	}
	for _, r := range regions {
		if !reactsToScenes(r) {
			continue
		}
		if Intersects(r.BoundingGeometry, footprint) {
			matched = append(matched, r)
		}
	}
	return matched
}

// FilterPolygons returns the polygons whose boundary intersects g, keeping
// their input order.
func FilterPolygons(polygons []types.Polygon, g types.Geometry) []types.Polygon {
	out := make([]types.Polygon, 0, len(polygons))
	for _, p := range polygons {
		if Intersects(p.Boundary, g) {
			out = append(out, p)
		}
	}
	return out
}

func reactsToScenes(r types.Region) bool {
	mode, err := r.ProcessingConfig.Variant()
	if err != nil {
		return false
	}
	switch mode.(type) {
	case types.OnNewScene:
		return true
	case types.Scheduled, types.Disabled:
		return false
	default:
		return false
	}
}
