// Package geometry holds the planar tests used by zone evaluation and the
// projector that maps camera pixels into normalized floor plan space.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"zoneguard/internal/model"
)

// Side is the side of a directed line a point lies on.
type Side int

const (
	SideUnknown Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "LEFT"
	case SideRight:
		return "RIGHT"
	}
	return "UNKNOWN"
}

// Opposite reports whether a and b are both known and differ.
func (s Side) Opposite(o Side) bool {
	return s != SideUnknown && o != SideUnknown && s != o
}

// Ring converts a vertex list into a closed orb ring.
func Ring(points []model.Point) orb.Ring {
	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// PolygonContains is a ray casting point-in-polygon test. Points on an edge count as inside.
// Fewer than three vertices never contain anything.
func PolygonContains(polygon []model.Point, p model.Point) bool {
	if len(polygon) < 3 || !finite(p) {
		return false
	}
	return planar.RingContains(Ring(polygon), orb.Point{p.X, p.Y})
}

// BoxInside reports whether all four corners of box lie in the polygon.
func BoxInside(polygon []model.Point, corners [4]model.Point) bool {
	if len(polygon) < 3 {
		return false
	}
	ring := Ring(polygon)
	for _, c := range corners {
		if !finite(c) || !planar.RingContains(ring, orb.Point{c.X, c.Y}) {
			return false
		}
	}
	return true
}

// Cross is the z component of (b-a) x (p-a).
func Cross(a, b, p model.Point) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

// LineSide classifies p against the directed line a->b. Points exactly on the line,
// degenerate lines and non-finite points are SideUnknown.
func LineSide(a, b, p model.Point) Side {
	if !finite(p) || (a.X == b.X && a.Y == b.Y) {
		return SideUnknown
	}
	c := Cross(a, b, p)
	switch {
	case c > 0:
		return SideLeft
	case c < 0:
		return SideRight
	}
	return SideUnknown
}

func finite(p model.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
