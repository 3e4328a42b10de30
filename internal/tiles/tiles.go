// Package tiles implements XYZ tile layers addressed by a URL template.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
)

var (
	ErrZoomOutOfRange = errors.New("zoom outside layer range")
	ErrTileOutOfRange = errors.New("tile outside zoom level")
)

const subdomains = "abc"

type Options struct {
	Opacity     float64 `json:"opacity"`
	MinZoom     int     `json:"minZoom"`
	MaxZoom     int     `json:"maxZoom"`
	Attribution string  `json:"attribution"`
}

func DefaultOptions() Options {
	return Options{Opacity: 0.7, MinZoom: 0, MaxZoom: 22}
}

// OptionsFrom applies descriptor options over the tile defaults. Zero zoom
// limits are treated as unset.
func OptionsFrom(o model.LayerOptions) Options {
	out := DefaultOptions()
	if o.Opacity != nil {
		out.Opacity = *o.Opacity
	}
	if o.MinZoom != nil && *o.MinZoom > 0 {
		out.MinZoom = *o.MinZoom
	}
	if o.MaxZoom != nil && *o.MaxZoom > 0 {
		out.MaxZoom = *o.MaxZoom
	}
	if o.Attribution != nil {
		out.Attribution = *o.Attribution
	}
	return out
}

type State string

const (
	StateIdle    State = "idle"
	StateMounted State = "mounted"
	StateFailed  State = "failed"
	StateRemoved State = "removed"
)

// Layer is a tile layer. It is itself the thing attached to the surface.
type Layer struct {
	id       string
	template string
	opts     Options
	surf     surface.Surface

	mu     sync.Mutex
	state  State
	errMsg string
}

func NewLayer(id, template string, opts Options, surf surface.Surface) *Layer {
	return &Layer{id: id, template: template, opts: opts, surf: surf, state: StateIdle}
}

func (l *Layer) LayerID() string { return l.id }

func (l *Layer) Template() string { return l.template }

func (l *Layer) Options() Options { return l.opts }

// Mount attaches the layer. Tile layers have nothing to load up front.
func (l *Layer) Mount(context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle {
		return
	}
	if err := l.surf.Attach(l); err != nil {
		l.state, l.errMsg = StateFailed, err.Error()
		return
	}
	l.state = StateMounted
}

func (l *Layer) Wait() error { return nil }

func (l *Layer) Remove() {
	l.mu.Lock()
	if l.state == StateRemoved {
		l.mu.Unlock()
		return
	}
	l.state = StateRemoved
	l.mu.Unlock()
	_ = l.surf.Detach(l)
}

func (l *Layer) Status() model.LayerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.LayerStatus{ID: l.id, Kind: model.KindTiles, State: string(l.state), Error: l.errMsg}
}

// URL expands the template for tile (x, y) at zoom z.
func (l *Layer) URL(z, x, y int) (string, error) {
	if z < l.opts.MinZoom || z > l.opts.MaxZoom {
		return "", fmt.Errorf("%w: %d not in [%d, %d]", ErrZoomOutOfRange, z, l.opts.MinZoom, l.opts.MaxZoom)
	}
	if z < 0 || z > 30 {
		return "", fmt.Errorf("%w: zoom %d", ErrTileOutOfRange, z)
	}
	n := 1 << uint(z)
	if x < 0 || y < 0 || x >= n || y >= n {
		return "", fmt.Errorf("%w: %d/%d/%d", ErrTileOutOfRange, z, x, y)
	}
	return Expand(l.template, z, x, y), nil
}

// URLAt expands the template for the tile covering (lng, lat) at zoom z.
func (l *Layer) URLAt(lng, lat float64, z int) (string, error) {
	t := TileAt(lng, lat, z)
	return l.URL(int(t.Z), int(t.X), int(t.Y))
}

// Expand substitutes {s}, {z}, {x}, {y}, {-y} and {r} in template.
func Expand(template string, z, x, y int) string {
	s := (x + y) % len(subdomains)
	if s < 0 {
		s = -s
	}
	r := strings.NewReplacer(
		"{s}", subdomains[s:s+1],
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{-y}", strconv.Itoa((1<<uint(z))-1-y),
		"{r}", "",
	)
	return r.Replace(template)
}

// TileAt returns the web mercator tile that covers (lng, lat) at zoom z.
func TileAt(lng, lat float64, z int) maptile.Tile {
	return maptile.At(orb.Point{lng, lat}, maptile.Zoom(z))
}
