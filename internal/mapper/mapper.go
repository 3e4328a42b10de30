// Package mapper converts between map coordinates and H3 cells.
package mapper

import "github.com/paulmach/orb"

type Interface interface {
	CellForPoint(pt orb.Point, res int) (string, error)
	CellBoundary(cell string) (orb.Polygon, error)
	ToParent(cell string, parentRes int) (string, error)
}
