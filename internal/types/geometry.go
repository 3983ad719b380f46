package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Geometry is a planar geometry in longitude/latitude order.
//
// On the wire it is either a GeoJSON geometry object, a GeoJSON Feature (its
// geometry is used), or a four element bounding box [minX, minY, maxX, maxY]
// which decodes to an orb.Bound.
type Geometry struct {
	orb.Geometry
}

// NewGeometry wraps g.
func NewGeometry(g orb.Geometry) Geometry {
	return Geometry{Geometry: g}
}

// IsEmpty reports whether no geometry is set.
func (g Geometry) IsEmpty() bool {
	return g.Geometry == nil
}

// Bound returns the bounding box of the geometry, or the zero Bound when empty.
func (g Geometry) Bound() orb.Bound {
	if g.Geometry == nil {
		return orb.Bound{}
	}
	return g.Geometry.Bound()
}

// MarshalJSON encodes the geometry as a GeoJSON geometry object. Bounds are
// written as their equivalent polygon.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Geometry == nil {
		return []byte("null"), nil
	}
	coords := g.Geometry
	if b, ok := coords.(orb.Bound); ok {
		coords = b.ToPolygon()
	}
	return json.Marshal(geojson.NewGeometry(coords))
}

// UnmarshalJSON accepts a GeoJSON geometry, a GeoJSON Feature or a bbox array.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		g.Geometry = nil
		return nil
	}

	if data[0] == '[' {
		b, err := parseBBox(data)
		if err != nil {
			return err
		}
		g.Geometry = b
		return nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("geometry: %w", err)
	}

	switch probe.Type {
	case "":
		return fmt.Errorf("geometry: missing type")
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return fmt.Errorf("geometry: %w", err)
		}
		g.Geometry = f.Geometry
	case "FeatureCollection":
		return fmt.Errorf("geometry: feature collections are not supported")
	default:
		gg, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return fmt.Errorf("geometry: %w", err)
		}
		g.Geometry = gg.Geometry()
	}
	return nil
}

func parseBBox(data []byte) (orb.Bound, error) {
	var nums []float64
	if err := json.Unmarshal(data, &nums); err != nil {
		return orb.Bound{}, fmt.Errorf("geometry: bbox: %w", err)
	}
	return BoundFromBBox(nums)
}

// BoundFromBBox converts a [minX, minY, maxX, maxY] slice. Six element 3D
// boxes drop their elevation.
func BoundFromBBox(nums []float64) (orb.Bound, error) {
	switch len(nums) {
	case 4:
	case 6:
		nums = []float64{nums[0], nums[1], nums[3], nums[4]}
	default:
		return orb.Bound{}, fmt.Errorf("geometry: bbox must have 4 or 6 numbers, got %d", len(nums))
	}
	b := orb.Bound{
		Min: orb.Point{nums[0], nums[1]},
		Max: orb.Point{nums[2], nums[3]},
	}
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return orb.Bound{}, fmt.Errorf("geometry: bbox min exceeds max")
	}
	return b, nil
}
