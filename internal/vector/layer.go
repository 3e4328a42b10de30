package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/observability"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hittest"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/logger"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/source"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/task"
)

type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateRendered State = "rendered"
	StateDeferred State = "deferred"
	StateFailed   State = "failed"
	StateRemoved  State = "removed"
)

const hintPosition = "topright"

// Rendering is the styled collection attached to the surface.
type Rendering struct {
	ID         string
	Style      model.VectorStyle
	Collection *geojson.FeatureCollection
}

func (r *Rendering) LayerID() string { return r.ID }

// ClickFunc receives the first feature under a map click.
type ClickFunc func(f *geojson.Feature, pt orb.Point)

type Config struct {
	ID             string
	URL            string
	Style          model.VectorStyle
	FitBounds      bool
	Policy         Policy
	OnFeatureClick ClickFunc
}

type Layer struct {
	cfg    Config
	surf   surface.Surface
	fetch  source.Fetcher
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	errMsg    string
	mode      Mode
	fc        *geojson.FeatureCollection
	rendering *Rendering
	hintShown bool
	zoomOff   func()
	clickOff  func()
	task      *task.Handle
	removed   bool
}

func NewLayer(cfg Config, surf surface.Surface, fetch source.Fetcher, log *slog.Logger) *Layer {
	if log == nil {
		log = slog.Default()
	}
	return &Layer{cfg: cfg, surf: surf, fetch: fetch, logger: log, state: StateIdle}
}

func (l *Layer) hintID() string { return l.cfg.ID + "-zoom-hint" }

// Mount starts loading the collection. Later calls are no-ops.
func (l *Layer) Mount(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task != nil || l.removed {
		return
	}
	ctx = logger.WithLayer(ctx, l.cfg.ID, string(model.KindGeoJSON))
	l.task = task.Start(ctx, l.run)
}

// Wait blocks until the collection is loaded and placed (or deferred).
func (l *Layer) Wait() error {
	l.mu.Lock()
	h := l.task
	l.mu.Unlock()
	return h.Wait()
}

func (l *Layer) Remove() {
	l.mu.Lock()
	if l.removed {
		l.mu.Unlock()
		return
	}
	l.removed = true
	l.state = StateRemoved
	h, zoomOff, clickOff := l.task, l.zoomOff, l.clickOff
	r, hint := l.rendering, l.hintShown
	l.zoomOff, l.clickOff, l.hintShown = nil, nil, false
	l.mu.Unlock()

	h.Cancel()
	for _, off := range []func(){zoomOff, clickOff} {
		if off != nil {
			off()
		}
	}
	if r != nil {
		_ = l.surf.Detach(r)
	}
	if hint {
		_ = l.surf.RemoveOverlay(l.hintID())
	}
}

func (l *Layer) Status() model.LayerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := model.LayerStatus{
		ID:    l.cfg.ID,
		Kind:  model.KindGeoJSON,
		State: string(l.state),
		Error: l.errMsg,
	}
	if l.fc != nil {
		st.Features = len(l.fc.Features)
	}
	return st
}

// Mode reports how the loaded collection was placed.
func (l *Layer) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// FeaturesAt hit-tests the raw collection, whether or not it is drawn yet.
func (l *Layer) FeaturesAt(x, y float64) []*geojson.Feature {
	l.mu.Lock()
	fc := l.fc
	l.mu.Unlock()
	if fc == nil {
		return nil
	}
	start := time.Now()
	hits := hittest.FindFeaturesAtPoint(fc.Features, x, y)
	observability.ObserveHitTest(len(hits), time.Since(start).Seconds())
	return hits
}

func (l *Layer) run(ctx context.Context) error {
	l.setState(StateFetching)

	fc, err := l.load(ctx)
	if err != nil {
		if ctx.Err() != nil || task.IsCancellation(err) {
			return err
		}
		l.fail(ctx, err)
		return err
	}

	n := len(fc.Features)
	mode := l.cfg.Policy.Decide(n)

	l.mu.Lock()
	if err := ctx.Err(); err != nil || l.removed {
		l.mu.Unlock()
		return context.Canceled
	}
	l.fc, l.mode = fc, mode
	l.rendering = &Rendering{ID: l.cfg.ID, Style: l.cfg.Style, Collection: fc}
	switch mode {
	case Immediate:
		err = l.surf.Attach(l.rendering)
		l.state = StateRendered
	case Deferred:
		err = l.surf.ShowOverlay(surface.Overlay{
			ID:       l.hintID(),
			Text:     l.cfg.Policy.HintText(n),
			Position: hintPosition,
		})
		l.hintShown = err == nil
		l.state = StateDeferred
	}
	l.mu.Unlock()
	if err != nil {
		l.fail(ctx, err)
		return err
	}
	l.logger.InfoContext(ctx, "geojson layer loaded", "features", n, "mode", mode.String())

	// Listeners first: the fit below may already cross the zoom gate.
	clickOff, err := l.surf.OnClick(l.onClick)
	if err != nil {
		return nil
	}
	var zoomOff func()
	if mode == Deferred {
		if zoomOff, err = l.surf.OnZoom(l.onZoom); err != nil {
			clickOff()
			return nil
		}
	}

	l.mu.Lock()
	if l.removed {
		l.mu.Unlock()
		clickOff()
		if zoomOff != nil {
			zoomOff()
		}
		return nil
	}
	l.clickOff = clickOff
	if l.state == StateDeferred {
		l.zoomOff = zoomOff
		zoomOff = nil
	}
	l.mu.Unlock()
	// Rendered in between; the zoom listener is no longer needed.
	if zoomOff != nil {
		zoomOff()
	}

	if l.cfg.FitBounds {
		if b, ok := collectionBound(fc); ok {
			if err := l.surf.FitBounds(b); err != nil {
				l.logger.WarnContext(ctx, "geojson fit bounds failed", "err", err)
			}
		}
	}
	return nil
}

func (l *Layer) load(ctx context.Context) (*geojson.FeatureCollection, error) {
	b, err := l.fetch.Fetch(ctx, l.cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	observability.ObserveLayerLoad(string(model.KindGeoJSON), "fetched")
	return fc, nil
}

func (l *Layer) onZoom(z float64) {
	// Negated so a NaN zoom never opens the gate.
	if !(z >= l.cfg.Policy.MinZoom) {
		return
	}
	l.mu.Lock()
	if l.removed || l.state != StateDeferred {
		l.mu.Unlock()
		return
	}
	if err := l.surf.Attach(l.rendering); err != nil {
		l.mu.Unlock()
		l.logger.Warn("deferred geojson attach failed", "layer_id", l.cfg.ID, "err", err)
		return
	}
	_ = l.surf.RemoveOverlay(l.hintID())
	l.hintShown = false
	l.state = StateRendered
	off := l.zoomOff
	l.zoomOff = nil
	l.mu.Unlock()

	if off != nil {
		off()
	}
	l.logger.Debug("deferred geojson attached", "layer_id", l.cfg.ID, "zoom", z)
}

func (l *Layer) onClick(pt orb.Point) {
	if l.cfg.OnFeatureClick == nil {
		return
	}
	hits := l.FeaturesAt(pt[0], pt[1])
	if len(hits) == 0 {
		return
	}
	l.cfg.OnFeatureClick(hits[0], pt)
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
	observability.ObserveLayerLoad(string(model.KindGeoJSON), "failed")
	l.logger.ErrorContext(ctx, "geojson layer failed", "url", l.cfg.URL, "err", err)
}

func collectionBound(fc *geojson.FeatureCollection) (orb.Bound, bool) {
	var (
		b  orb.Bound
		ok bool
	)
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		gb := f.Geometry.Bound()
		if !ok {
			b, ok = gb, true
			continue
		}
		b = b.Union(gb)
	}
	return b, ok
}
