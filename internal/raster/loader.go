package raster

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/colormap"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/observability"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/logger"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/source"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/task"
)

type State string

const (
	StateIdle         State = "idle"
	StateFetching     State = "fetching"
	StateLowRes       State = "low_res"
	StateHighRes      State = "high_res"
	StateZoomAdaptive State = "zoom_adaptive"
	StateFailed       State = "failed"
	StateRemoved      State = "removed"
)

// Tuning holds the process-wide rendering knobs.
type Tuning struct {
	Resolution        int
	HighResDelay      time.Duration
	ZoomFactor        float64
	MinZoomResolution int
}

func DefaultTuning() Tuning {
	return Tuning{
		Resolution:        256,
		HighResDelay:      300 * time.Millisecond,
		ZoomFactor:        32,
		MinZoomResolution: 16,
	}
}

const (
	DefaultMin     = -5.0
	DefaultMax     = 5.0
	DefaultOpacity = 0.7
)

var DefaultPalette = []string{"FF0000", "FFFFFF", "00FF00"}

type Config struct {
	ID                string
	URL               string
	Mapper            colormap.Mapper
	Opacity           float64
	Resolution        int
	InitialResolution int
	ResponsiveByZoom  bool
	FitBounds         bool
	HighResDelay      time.Duration
	ZoomFactor        float64
	MinZoomResolution int
}

// NewConfig resolves a descriptor's options against t and the raster defaults.
func NewConfig(d model.Descriptor, t Tuning) (Config, error) {
	def := DefaultTuning()
	if t.Resolution <= 0 {
		t.Resolution = def.Resolution
	}
	if t.ZoomFactor <= 0 {
		t.ZoomFactor = def.ZoomFactor
	}
	if t.MinZoomResolution <= 0 {
		t.MinZoomResolution = def.MinZoomResolution
	}
	if t.HighResDelay < 0 {
		t.HighResDelay = 0
	}

	o := d.Options
	hexes := o.Palette
	if len(hexes) == 0 {
		hexes = DefaultPalette
	}
	pal, err := colormap.ParsePalette(hexes)
	if err != nil {
		return Config{}, err
	}

	c := Config{
		ID:  d.ID,
		URL: d.URL,
		Mapper: colormap.Mapper{
			Min:               valueOr(o.Min, DefaultMin),
			Max:               valueOr(o.Max, DefaultMax),
			Palette:           pal,
			ZeroAsTransparent: valueOr(o.ZeroAsTransparent, false),
		},
		Opacity:           valueOr(o.Opacity, DefaultOpacity),
		Resolution:        valueOr(o.Resolution, t.Resolution),
		ResponsiveByZoom:  valueOr(o.ResponsiveByZoom, true),
		FitBounds:         valueOr(o.FitBounds, true),
		HighResDelay:      t.HighResDelay,
		ZoomFactor:        t.ZoomFactor,
		MinZoomResolution: t.MinZoomResolution,
	}
	if c.Resolution <= 0 {
		c.Resolution = t.Resolution
	}
	c.InitialResolution = valueOr(o.InitialResolution, max(32, c.Resolution/4))
	if c.InitialResolution <= 0 {
		c.InitialResolution = max(32, c.Resolution/4)
	}
	return c, nil
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// ZoomResolution is the sampling resolution used at zoom z, never above target.
func ZoomResolution(z float64, target int, factor float64, minRes int) int {
	r := max(minRes, int(math.Floor(z*factor)))
	return min(target, r)
}

// Layer drives one raster layer on a surface: fetch or reuse the grid, show a
// coarse rendering, refine it after a short delay, then follow zoom changes.
// A new rendering is always attached before the one it replaces is detached.
type Layer struct {
	cfg    Config
	surf   surface.Surface
	fetch  source.Fetcher
	cache  *Cache
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	errMsg  string
	grid    *Grid
	active  *Rendering
	zoomOff func()
	task    *task.Handle
	removed bool
}

func NewLayer(cfg Config, surf surface.Surface, fetch source.Fetcher, cache *Cache, log *slog.Logger) *Layer {
	if cache == nil {
		cache = NewCache()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Layer{
		cfg:    cfg,
		surf:   surf,
		fetch:  fetch,
		cache:  cache,
		logger: log,
		state:  StateIdle,
	}
}

// Mount starts the load pipeline. Later calls are no-ops.
func (l *Layer) Mount(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task != nil || l.removed {
		return
	}
	ctx = logger.WithLayer(ctx, l.cfg.ID, string(model.KindGeoTIFF))
	l.task = task.Start(ctx, l.run)
}

// Wait blocks until the load pipeline has finished. Zoom tracking continues
// afterwards until Remove.
func (l *Layer) Wait() error {
	l.mu.Lock()
	h := l.task
	l.mu.Unlock()
	return h.Wait()
}

// Remove cancels any pending work and takes the layer off the surface.
// Surface errors are ignored; calling Remove again does nothing.
func (l *Layer) Remove() {
	l.mu.Lock()
	if l.removed {
		l.mu.Unlock()
		return
	}
	l.removed = true
	l.state = StateRemoved
	h, off, active := l.task, l.zoomOff, l.active
	l.zoomOff, l.active = nil, nil
	l.mu.Unlock()

	h.Cancel()
	if off != nil {
		off()
	}
	if active != nil {
		_ = l.surf.Detach(active)
	}
}

func (l *Layer) Status() model.LayerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := model.LayerStatus{
		ID:    l.cfg.ID,
		Kind:  model.KindGeoTIFF,
		State: string(l.state),
		Error: l.errMsg,
	}
	if l.active != nil {
		st.Resolution = l.active.Resolution
	}
	return st
}

// Rendering returns the rendering currently on the surface, if any.
func (l *Layer) Rendering() *Rendering {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Layer) run(ctx context.Context) error {
	l.setState(StateFetching)

	g, err := l.load(ctx)
	if err != nil {
		if ctx.Err() != nil || task.IsCancellation(err) {
			return err
		}
		l.fail(ctx, err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := l.swap(ctx, g, l.render(g, l.cfg.InitialResolution, "initial"), StateLowRes); err != nil {
		return err
	}
	l.logger.DebugContext(ctx, "raster low resolution attached", "resolution", l.cfg.InitialResolution)

	if g.HasBounds && l.cfg.FitBounds {
		if err := l.fitBounds(ctx, g.Bounds); err != nil {
			return err
		}
	}

	if l.cfg.Resolution > l.cfg.InitialResolution {
		t := time.NewTimer(l.cfg.HighResDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := l.swap(ctx, g, l.render(g, l.cfg.Resolution, "target"), StateHighRes); err != nil {
			return err
		}
		l.logger.DebugContext(ctx, "raster high resolution attached", "resolution", l.cfg.Resolution)
	}

	if !l.cfg.ResponsiveByZoom {
		return nil
	}
	off, err := l.surf.OnZoom(l.onZoom)
	if err != nil {
		l.logger.WarnContext(ctx, "raster zoom listener not registered", "err", err)
		return nil
	}
	l.mu.Lock()
	if l.removed {
		l.mu.Unlock()
		off()
		return nil
	}
	l.zoomOff = off
	l.mu.Unlock()
	return nil
}

// fitBounds moves the viewport onto the raster unless the layer was removed
// after the low resolution swap. Its own zoom listener is not registered yet,
// so the listeners FitBounds fires cannot re-enter l.mu.
func (l *Layer) fitBounds(ctx context.Context, b orb.Bound) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.removed {
		return context.Canceled
	}
	if err := l.surf.FitBounds(b); err != nil {
		l.logger.WarnContext(ctx, "raster fit bounds failed", "err", err)
	}
	return nil
}

func (l *Layer) load(ctx context.Context) (*Grid, error) {
	if g, ok := l.cache.Get(l.cfg.URL); ok {
		observability.ObserveLayerLoad(string(model.KindGeoTIFF), "cached")
		return g, nil
	}
	b, err := l.fetch.Fetch(ctx, l.cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, err := ParseGeoTIFF(b)
	if err != nil {
		return nil, err
	}
	l.cache.Put(l.cfg.URL, g)
	observability.ObserveLayerLoad(string(model.KindGeoTIFF), "fetched")
	return g, nil
}

func (l *Layer) render(g *Grid, res int, phase string) *Rendering {
	start := time.Now()
	r := Render(l.cfg.ID, g, &l.cfg.Mapper, res, l.cfg.Opacity)
	observability.ObserveRasterRender(phase, time.Since(start).Seconds())
	return r
}

func (l *Layer) swap(ctx context.Context, g *Grid, next *Rendering, st State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.removed {
		return context.Canceled
	}
	l.grid = g
	return l.swapLocked(next, st)
}

func (l *Layer) swapLocked(next *Rendering, st State) error {
	if err := l.surf.Attach(next); err != nil {
		return err
	}
	if prev := l.active; prev != nil && prev != next {
		_ = l.surf.Detach(prev)
	}
	l.active = next
	l.state = st
	return nil
}

func (l *Layer) onZoom(z float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed || l.active == nil || l.grid == nil {
		return
	}
	r := ZoomResolution(z, l.cfg.Resolution, l.cfg.ZoomFactor, l.cfg.MinZoomResolution)
	if r == l.active.Resolution {
		return
	}
	if err := l.swapLocked(l.render(l.grid, r, "zoom"), StateZoomAdaptive); err != nil {
		l.logger.Warn("raster zoom re-render failed", "layer_id", l.cfg.ID, "resolution", r, "err", err)
	}
}

func (l *Layer) setState(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.removed {
		l.state = st
	}
}

func (l *Layer) fail(ctx context.Context, err error) {
	l.mu.Lock()
	if !l.removed {
		l.state = StateFailed
		l.errMsg = err.Error()
	}
	l.mu.Unlock()
	observability.ObserveLayerLoad(string(model.KindGeoTIFF), "failed")
	l.logger.ErrorContext(ctx, "raster layer failed", "url", l.cfg.URL, "err", err)
}
