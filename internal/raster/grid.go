// Package raster decodes single-band GeoTIFF grids and renders them onto a
// map surface at progressively finer resolutions.
package raster

import (
	"math"

	"github.com/paulmach/orb"
)

// Grid is one band of samples in row-major order. NaN marks nodata.
type Grid struct {
	Width     int
	Height    int
	Values    []float64
	Bounds    orb.Bound
	HasBounds bool
}

// Value returns the sample at (col, row), or NaN outside the grid.
func (g *Grid) Value(col, row int) float64 {
	if g == nil || col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return math.NaN()
	}
	i := row*g.Width + col
	if i >= len(g.Values) {
		return math.NaN()
	}
	return g.Values[i]
}

// Range reports the smallest and largest finite samples. ok is false when the
// grid holds no data at all.
func (g *Grid) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range g.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	return lo, hi, ok
}
