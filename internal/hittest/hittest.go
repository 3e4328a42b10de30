// Package hittest answers point-in-polygon queries against GeoJSON features.
package hittest

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// PointInRing reports whether (x, y) lies inside the closed ring using the
// even-odd rule. The ring is treated as closed whether or not its first point
// is repeated at the end.
func PointInRing(x, y float64, ring orb.Ring) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) == (yj > y) {
			continue
		}
		// yi != yj here, the edge straddles the ray
		if x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// PointInPolygon reports whether (x, y) is inside the outer ring and outside
// every hole.
func PointInPolygon(x, y float64, rings orb.Polygon) bool {
	if len(rings) == 0 {
		return false
	}
	if !PointInRing(x, y, rings[0]) {
		return false
	}
	for _, hole := range rings[1:] {
		if PointInRing(x, y, hole) {
			return false
		}
	}
	return true
}

// GeometryContainsPoint dispatches on the concrete geometry. Only polygonal
// geometries can be hit; everything else reports false.
func GeometryContainsPoint(g orb.Geometry, x, y float64) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return PointInPolygon(x, y, g)
	case orb.MultiPolygon:
		for _, p := range g {
			if PointInPolygon(x, y, p) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func FeatureContainsPoint(f *geojson.Feature, x, y float64) bool {
	if f == nil || f.Geometry == nil {
		return false
	}
	return GeometryContainsPoint(f.Geometry, x, y)
}

// FindFeaturesAtPoint returns every feature containing (x, y), in input order.
func FindFeaturesAtPoint(features []*geojson.Feature, x, y float64) []*geojson.Feature {
	var out []*geojson.Feature
	for _, f := range features {
		if FeatureContainsPoint(f, x, y) {
			out = append(out, f)
		}
	}
	return out
}
