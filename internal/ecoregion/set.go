// Package ecoregion loads reference polygons and joins point records
// against them.
package ecoregion

import (
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/rtree"
)

// NameField is the attribute holding the Level III ecoregion name.
const NameField = "US_L3NAME"

// Region is one reference polygon in EPSG:4326.
type Region struct {
	Index      int
	Geometry   orb.Geometry
	Bound      orb.Bound
	Attributes map[string]string
}

func (r *Region) Name() string {
	return r.Attributes[NameField]
}

func (r *Region) contains(point orb.Point) bool {
	switch g := r.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, point)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, point)
	case orb.Bound:
		return g.Contains(point)
	}
	return false
}

// Set is an indexed collection of regions.  It is not modified after NewSet
// returns and may be shared between goroutines.
type Set struct {
	fields  []string
	regions []*Region
	extent  orb.Bound
	tree    rtree.RTreeG[*Region]
}

// NewSet indexes the regions.  Fields lists the attribute names in output
// order.
func NewSet(fields []string, regions []*Region) *Set {
	set := &Set{
		fields:  fields,
		regions: regions,
	}
	for i, region := range regions {
		if i == 0 {
			set.extent = region.Bound
		} else {
			set.extent = set.extent.Union(region.Bound)
		}
		set.tree.Insert(
			[2]float64{region.Bound.Min.X(), region.Bound.Min.Y()},
			[2]float64{region.Bound.Max.X(), region.Bound.Max.Y()},
			region,
		)
	}
	return set
}

func (s *Set) Fields() []string {
	return s.fields
}

func (s *Set) Regions() []*Region {
	return s.regions
}

func (s *Set) Len() int {
	return len(s.regions)
}

// Extent is the union of all region bounds.
func (s *Set) Extent() orb.Bound {
	return s.extent
}

// Names returns the distinct region names in index order.
func (s *Set) Names() []string {
	names := []string{}
	for _, region := range s.regions {
		name := region.Name()
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// Intersecting returns the regions whose geometry contains the point or has
// it on the boundary, ordered by index.
func (s *Set) Intersecting(point orb.Point) []*Region {
	var matches []*Region
	xy := [2]float64{point.X(), point.Y()}
	s.tree.Search(xy, xy, func(min, max [2]float64, region *Region) bool {
		if region.contains(point) || onHoleEdge(region.Geometry, point) {
			matches = append(matches, region)
		}
		return true
	})
	slices.SortFunc(matches, func(a, b *Region) int {
		return a.Index - b.Index
	})
	return matches
}

// onHoleEdge reports whether the point lies on an interior ring.  planar
// containment already counts the outer ring as inside but rejects points on
// a hole's edge.
func onHoleEdge(g orb.Geometry, point orb.Point) bool {
	var polygons []orb.Polygon
	switch geometry := g.(type) {
	case orb.Polygon:
		polygons = []orb.Polygon{geometry}
	case orb.MultiPolygon:
		polygons = geometry
	default:
		return false
	}
	for _, polygon := range polygons {
		if len(polygon) < 2 || !planar.RingContains(polygon[0], point) {
			continue
		}
		for _, ring := range polygon[1:] {
			if onRing(ring, point) {
				return true
			}
		}
	}
	return false
}

func onRing(ring orb.Ring, point orb.Point) bool {
	for i := 1; i < len(ring); i++ {
		a, b := ring[i-1], ring[i]
		cross := (b.X()-a.X())*(point.Y()-a.Y()) - (b.Y()-a.Y())*(point.X()-a.X())
		if cross != 0 {
			continue
		}
		if point.X() < min(a.X(), b.X()) || point.X() > max(a.X(), b.X()) {
			continue
		}
		if point.Y() < min(a.Y(), b.Y()) || point.Y() > max(a.Y(), b.Y()) {
			continue
		}
		return true
	}
	return false
}
