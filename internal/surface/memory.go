package surface

import (
	"math"
	"slices"
	"sync"

	"github.com/paulmach/orb"
)

// Map is an in-process Surface. Listeners run on the caller's goroutine after
// the map lock is released, so they may call back into the map.
type Map struct {
	mu sync.Mutex

	center  orb.Point
	zoom    float64
	minZoom float64
	maxZoom float64

	layers   []Layer
	overlays []Overlay

	nextID  uint64
	onZoom  map[uint64]ZoomFunc
	onClick map[uint64]ClickFunc

	attachments int
	closed      bool
}

var _ Surface = (*Map)(nil)

type MapOptions struct {
	Center  orb.Point
	Zoom    float64
	MinZoom float64
	MaxZoom float64
}

func NewMap(o MapOptions) *Map {
	if o.MaxZoom <= 0 {
		o.MaxZoom = 19
	}
	m := &Map{
		center:  o.Center,
		minZoom: o.MinZoom,
		maxZoom: o.MaxZoom,
		onZoom:  make(map[uint64]ZoomFunc),
		onClick: make(map[uint64]ClickFunc),
	}
	m.zoom = m.clampZoom(o.Zoom)
	return m
}

func (m *Map) clampZoom(z float64) float64 {
	return math.Min(m.maxZoom, math.Max(m.minZoom, z))
}

func (m *Map) Zoom() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

func (m *Map) Center() orb.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.center
}

// SetZoom moves the view and notifies zoom listeners if the zoom changed.
func (m *Map) SetZoom(z float64) error {
	if !finite(z) {
		return ErrNonFinite
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	z = m.clampZoom(z)
	if z == m.zoom {
		m.mu.Unlock()
		return nil
	}
	m.zoom = z
	fns := m.zoomListeners()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(z)
	}
	return nil
}

// Click delivers a pointer click at pt to every click listener.
func (m *Map) Click(pt orb.Point) error {
	if !finite(pt.X()) || !finite(pt.Y()) {
		return ErrNonFinite
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	fns := make([]ClickFunc, 0, len(m.onClick))
	for _, id := range sortedKeys(m.onClick) {
		fns = append(fns, m.onClick[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(pt)
	}
	return nil
}

func (m *Map) Attach(l Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if slices.Contains(m.layers, l) {
		return nil
	}
	m.layers = append(m.layers, l)
	m.attachments++
	return nil
}

func (m *Map) Detach(l Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.layers = slices.DeleteFunc(m.layers, func(x Layer) bool { return x == l })
	return nil
}

func (m *Map) Has(l Layer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.layers, l)
}

// Layers returns the attached layers in attachment order.
func (m *Map) Layers() []Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.layers)
}

// Attachments counts every successful Attach over the map's lifetime.
func (m *Map) Attachments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attachments
}

// FitBounds centres the view on b at the deepest zoom that still shows all of
// it, using web mercator tile arithmetic.
func (m *Map) FitBounds(b orb.Bound) error {
	for _, v := range []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()} {
		if !finite(v) {
			return ErrNonFinite
		}
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.center = b.Center()
	z := m.clampZoom(fitZoom(b))
	changed := z != m.zoom
	m.zoom = z
	var fns []ZoomFunc
	if changed {
		fns = m.zoomListeners()
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(z)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func fitZoom(b orb.Bound) float64 {
	lng := b.Max.X() - b.Min.X()
	lat := b.Max.Y() - b.Min.Y()
	span := math.Max(lng, lat)
	if span <= 0 {
		return math.Inf(1)
	}
	return math.Floor(math.Log2(360 / span))
}

func (m *Map) ShowOverlay(o Overlay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for i := range m.overlays {
		if m.overlays[i].ID == o.ID {
			m.overlays[i] = o
			return nil
		}
	}
	m.overlays = append(m.overlays, o)
	return nil
}

func (m *Map) RemoveOverlay(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.overlays = slices.DeleteFunc(m.overlays, func(o Overlay) bool { return o.ID == id })
	return nil
}

func (m *Map) Overlays() []Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.overlays)
}

func (m *Map) OnZoom(fn ZoomFunc) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}, ErrClosed
	}
	m.nextID++
	id := m.nextID
	m.onZoom[id] = fn
	return m.offFunc(func() { delete(m.onZoom, id) }), nil
}

func (m *Map) OnClick(fn ClickFunc) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}, ErrClosed
	}
	m.nextID++
	id := m.nextID
	m.onClick[id] = fn
	return m.offFunc(func() { delete(m.onClick, id) }), nil
}

func (m *Map) offFunc(del func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			del()
		})
	}
}

// ListenerCount reports registered zoom and click listeners.
func (m *Map) ListenerCount() (zoom, click int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.onZoom), len(m.onClick)
}

// Close tears the map down. Later operations fail with ErrClosed.
func (m *Map) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.layers = nil
	m.overlays = nil
	clear(m.onZoom)
	clear(m.onClick)
}

// listeners fire in registration order; callers hold m.mu
func (m *Map) zoomListeners() []ZoomFunc {
	fns := make([]ZoomFunc, 0, len(m.onZoom))
	for _, id := range sortedKeys(m.onZoom) {
		fns = append(fns, m.onZoom[id])
	}
	return fns
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
