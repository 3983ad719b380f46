// Package geo implements the planar intersection test used to match imagery
// footprints against regions and region polygons.
//
// All tests are boundary inclusive: geometries that only touch along an edge
// or at a single vertex intersect. Coordinates are treated as planar
// longitude/latitude; antimeridian wrapping is not handled.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"regionwatch/internal/types"
)

// part is one primitive of a geometry: a point, a line or a polygon.
type part struct {
	point   *orb.Point
	line    orb.LineString
	polygon orb.Polygon
}

// Intersects reports whether a and b share at least one point.
// Nil or empty geometries never intersect anything.
func Intersects(a, b orb.Geometry) bool {
	a, b = unwrap(a), unwrap(b)
	if a == nil || b == nil {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}

	pa := decompose(a, nil)
	pb := decompose(b, nil)
	for _, x := range pa {
		for _, y := range pb {
			if x.intersects(y) {
				return true
			}
		}
	}
	return false
}

func unwrap(g orb.Geometry) orb.Geometry {
	for {
		switch v := g.(type) {
		case types.Geometry:
			g = v.Geometry
		case *types.Geometry:
			if v == nil {
				return nil
			}
			g = v.Geometry
		default:
			return g
		}
	}
}

func decompose(g orb.Geometry, out []part) []part {
	switch v := unwrap(g).(type) {
	case orb.Point:
		p := v
		out = append(out, part{point: &p})
	case orb.MultiPoint:
		for i := range v {
			p := v[i]
			out = append(out, part{point: &p})
		}
	case orb.LineString:
		out = appendLine(out, v)
	case orb.MultiLineString:
		for _, ls := range v {
			out = appendLine(out, ls)
		}
	case orb.Ring:
		if len(v) > 0 {
			out = append(out, part{polygon: orb.Polygon{v}})
		}
	case orb.Polygon:
		if len(v) > 0 && len(v[0]) > 0 {
			out = append(out, part{polygon: v})
		}
	case orb.MultiPolygon:
		for _, p := range v {
			if len(p) > 0 && len(p[0]) > 0 {
				out = append(out, part{polygon: p})
			}
		}
	case orb.Bound:
		out = append(out, part{polygon: v.ToPolygon()})
	case orb.Collection:
		for _, c := range v {
			out = decompose(c, out)
		}
	}
	return out
}

func appendLine(out []part, ls orb.LineString) []part {
	switch len(ls) {
	case 0:
		return out
	case 1:
		p := ls[0]
		return append(out, part{point: &p})
	default:
		return append(out, part{line: ls})
	}
}

func (x part) intersects(y part) bool {
	switch {
	case x.point != nil:
		return y.containsPoint(*x.point)
	case y.point != nil:
		return x.containsPoint(*y.point)
	case x.line != nil && y.line != nil:
		return pathsCross(lineSegments(x.line), lineSegments(y.line))
	case x.line != nil:
		return lineTouchesPolygon(x.line, y.polygon)
	case y.line != nil:
		return lineTouchesPolygon(y.line, x.polygon)
	default:
		return polygonsIntersect(x.polygon, y.polygon)
	}
}

func (x part) containsPoint(p orb.Point) bool {
	switch {
	case x.point != nil:
		return *x.point == p
	case x.line != nil:
		for _, s := range lineSegments(x.line) {
			if onSegment(p, s[0], s[1]) {
				return true
			}
		}
		return false
	default:
		return polygonContains(x.polygon, p)
	}
}

// polygonContains is true for points inside the exterior ring and outside
// every hole, or on any ring.
func polygonContains(poly orb.Polygon, p orb.Point) bool {
	for _, ring := range poly {
		for _, s := range ringSegments(ring) {
			if onSegment(p, s[0], s[1]) {
				return true
			}
		}
	}
	if !planar.RingContains(poly[0], p) {
		return false
	}
	for _, hole := range poly[1:] {
		if planar.RingContains(hole, p) {
			return false
		}
	}
	return true
}

func lineTouchesPolygon(ls orb.LineString, poly orb.Polygon) bool {
	lsegs := lineSegments(ls)
	for _, ring := range poly {
		if pathsCross(lsegs, ringSegments(ring)) {
			return true
		}
	}
	// No edge contact: the line is either fully inside or fully outside.
	return polygonContains(poly, ls[0])
}

func polygonsIntersect(a, b orb.Polygon) bool {
	for _, ra := range a {
		sa := ringSegments(ra)
		for _, rb := range b {
			if pathsCross(sa, ringSegments(rb)) {
				return true
			}
		}
	}
	// No edge contact: one contains the other or they are disjoint.
	for _, ring := range a {
		if len(ring) > 0 && polygonContains(b, ring[0]) {
			return true
		}
	}
	for _, ring := range b {
		if len(ring) > 0 && polygonContains(a, ring[0]) {
			return true
		}
	}
	return false
}

type segment [2]orb.Point

func lineSegments(ls orb.LineString) []segment {
	if len(ls) < 2 {
		return nil
	}
	segs := make([]segment, 0, len(ls)-1)
	for i := 0; i+1 < len(ls); i++ {
		segs = append(segs, segment{ls[i], ls[i+1]})
	}
	return segs
}

// ringSegments includes the closing edge when the ring is not explicitly closed.
func ringSegments(r orb.Ring) []segment {
	if len(r) == 0 {
		return nil
	}
	if len(r) == 1 {
		return []segment{{r[0], r[0]}}
	}
	segs := lineSegments(orb.LineString(r))
	if r[0] != r[len(r)-1] {
		segs = append(segs, segment{r[len(r)-1], r[0]})
	}
	return segs
}

func pathsCross(a, b []segment) bool {
	for _, s := range a {
		sb := orb.Bound{Min: s[0], Max: s[0]}.Extend(s[1])
		for _, t := range b {
			tb := orb.Bound{Min: t[0], Max: t[0]}.Extend(t[1])
			if !sb.Intersects(tb) {
				continue
			}
			if segmentsIntersect(s[0], s[1], t[0], t[1]) {
				return true
			}
		}
	}
	return false
}

// orientation returns 1 for counter-clockwise, -1 for clockwise and 0 for
// collinear.
func orientation(a, b, c orb.Point) int {
	v := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func onSegment(p, a, b orb.Point) bool {
	if orientation(a, b, p) != 0 {
		return false
	}
	return within(p, a, b)
}

// within assumes p is collinear with a and b.
func within(p, a, b orb.Point) bool {
	return p[0] >= min(a[0], b[0]) && p[0] <= max(a[0], b[0]) &&
		p[1] >= min(a[1], b[1]) && p[1] <= max(a[1], b[1])
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	o1 := orientation(p1, p2, q1)
	o2 := orientation(p1, p2, q2)
	o3 := orientation(q1, q2, p1)
	o4 := orientation(q1, q2, p2)

	if o1 != o2 && o3 != o4 {
		return true
	}
	switch {
	case o1 == 0 && within(q1, p1, p2):
		return true
	case o2 == 0 && within(q2, p1, p2):
		return true
	case o3 == 0 && within(p1, q1, q2):
		return true
	case o4 == 0 && within(p2, q1, q2):
		return true
	}
	return false
}
