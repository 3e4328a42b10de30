// Package surface models the interactive map that layers render onto.
package surface

import (
	"errors"

	"github.com/paulmach/orb"
)

// ErrClosed is returned by every operation on a surface that has been torn down.
var ErrClosed = errors.New("surface: closed")

// ErrNonFinite rejects NaN or infinite zooms and positions.
var ErrNonFinite = errors.New("surface: non-finite zoom or position")

// Layer is anything that can be attached to the map.
type Layer interface {
	LayerID() string
}

type Overlay struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Position string `json:"position"`
}

type (
	ZoomFunc  func(zoom float64)
	ClickFunc func(pt orb.Point)
)

// Surface is the shared, mutable map. Listener registration returns a func
// that deregisters it; calling that func more than once is a no-op.
type Surface interface {
	Zoom() float64
	Attach(l Layer) error
	Detach(l Layer) error
	Has(l Layer) bool
	FitBounds(b orb.Bound) error
	ShowOverlay(o Overlay) error
	RemoveOverlay(id string) error
	OnZoom(fn ZoomFunc) (off func(), err error)
	OnClick(fn ClickFunc) (off func(), err error)
}
