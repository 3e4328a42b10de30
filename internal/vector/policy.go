// Package vector loads GeoJSON layers and decides, by feature count, whether
// they render straight away or wait for the user to zoom in.
package vector

import (
	"fmt"
	"strconv"
)

type Mode int

const (
	Immediate Mode = iota
	Deferred
)

func (m Mode) String() string {
	switch m {
	case Immediate:
		return "immediate"
	case Deferred:
		return "deferred"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Policy gates large datasets behind a minimum zoom.
type Policy struct {
	Threshold int
	MinZoom   float64
}

func DefaultPolicy() Policy {
	return Policy{Threshold: 2000, MinZoom: 12}
}

// Decide returns Immediate for collections of at most Threshold features.
func (p Policy) Decide(n int) Mode {
	if n <= p.Threshold {
		return Immediate
	}
	return Deferred
}

// HintText is the overlay shown while a deferred layer waits for zoom.
func (p Policy) HintText(n int) string {
	return fmt.Sprintf("Zoom >= %s to load features (%d)", strconv.FormatFloat(p.MinZoom, 'f', -1, 64), n)
}
