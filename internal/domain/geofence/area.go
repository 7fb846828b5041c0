// Package geofence owns the named polygon set used to tag sightings with an
// area and keeps it fresh from an external source.
package geofence

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Area is a named region. Boundary coordinates are (lon, lat).
type Area struct {
	Name     string
	Boundary orb.MultiPolygon
	bound    orb.Bound
}

// NewArea builds an area and caches its bounding box for fast rejection.
func NewArea(name string, boundary orb.MultiPolygon) Area {
	return Area{Name: name, Boundary: boundary, bound: boundary.Bound()}
}

// Contains reports whether the point lies inside the area. Holes are honored.
func (a Area) Contains(lat, lon float64) bool {
	pt := orb.Point{lon, lat}
	if len(a.Boundary) == 0 || !a.bound.Contains(pt) {
		return false
	}
	return planar.MultiPolygonContains(a.Boundary, pt)
}
