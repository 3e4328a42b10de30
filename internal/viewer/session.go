// Package viewer keeps the mounted layers on a map surface in step with the
// layer store and answers clicks and point queries against them.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hitevents"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hotness"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/layers"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/legend"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/logger"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/mapper"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/popup"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/raster"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/source"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/tiles"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/vector"
)

const BaseLayerID = "base"

var (
	ErrNotMounted  = errors.New("layer not mounted")
	ErrWrongKind   = errors.New("operation not supported for layer kind")
	ErrNoRendering = errors.New("no rendering yet")
	ErrClosed      = errors.New("viewer closed")
)

// Controller is a mounted layer. Remove is idempotent and never fails.
type Controller interface {
	Mount(ctx context.Context)
	Wait() error
	Remove()
	Status() model.LayerStatus
}

// Publisher receives click events.
type Publisher interface {
	Publish(ev hitevents.Event)
}

type Deps struct {
	Store   *layers.Store
	Surface *surface.Map
	Fetcher source.Fetcher
	Grids   *raster.Cache
	Popups  *popup.Cache

	// optional
	Hotness hotness.Interface
	Cells   mapper.Interface
	Events  Publisher
	Logger  *slog.Logger
}

type Options struct {
	BaseTileURL         string
	BaseTileAttribution string
	Policy              vector.Policy
	Tuning              raster.Tuning
	H3Res               int
}

type mount struct {
	desc model.Descriptor
	ctl  Controller
}

type Session struct {
	deps Deps
	opts Options
	log  *slog.Logger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	base   *tiles.Layer

	mu      sync.Mutex
	mounted map[string]*mount
	order   []string
	closed  bool

	clickMu    sync.Mutex
	popupMu    sync.Mutex
	popup      *popup.Popup
	candidates []popup.Popup
}

// New mounts the base map and every visible layer. Layer pipelines run under
// a context derived from ctx until Close.
func New(ctx context.Context, deps Deps, opts Options) (*Session, error) {
	if deps.Store == nil || deps.Surface == nil || deps.Fetcher == nil {
		return nil, errors.New("viewer: store, surface and fetcher are required")
	}
	if deps.Grids == nil {
		deps.Grids = raster.NewCache()
	}
	if deps.Popups == nil {
		pc, err := popup.NewCache(0, popup.DefaultConfig())
		if err != nil {
			return nil, err
		}
		deps.Popups = pc
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.Policy == (vector.Policy{}) {
		opts.Policy = vector.DefaultPolicy()
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		deps:    deps,
		opts:    opts,
		log:     deps.Logger,
		now:     time.Now,
		ctx:     logger.WithComponent(base, "viewer"),
		cancel:  cancel,
		mounted: make(map[string]*mount),
	}

	if opts.BaseTileURL != "" {
		to := tiles.DefaultOptions()
		to.Opacity = 1
		to.Attribution = opts.BaseTileAttribution
		s.base = tiles.NewLayer(BaseLayerID, opts.BaseTileURL, to, deps.Surface)
		s.base.Mount(s.ctx)
	}
	s.Sync()
	return s, nil
}

// Sync mounts visible layers that are not mounted yet, remounts layers whose
// source or options changed and removes hidden or deleted ones.
func (s *Session) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	visible := s.deps.Store.Visible()
	want := make(map[string]model.Descriptor, len(visible))
	for _, d := range visible {
		want[d.ID] = d
	}

	for _, id := range slices.Clone(s.order) {
		m := s.mounted[id]
		d, ok := want[id]
		if ok && !changed(m.desc, d) {
			continue
		}
		s.unmountLocked(id)
	}

	for _, d := range visible {
		if _, ok := s.mounted[d.ID]; ok {
			continue
		}
		s.mountLocked(d)
	}
}

// Reload remounts the data layers that read url, or all of them when url is
// empty, and reports how many were remounted.
func (s *Session) Reload(_ context.Context, url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	var redo []model.Descriptor
	for _, id := range s.order {
		d := s.mounted[id].desc
		if d.Kind == model.KindTiles || (url != "" && d.URL != url) {
			continue
		}
		redo = append(redo, d)
	}
	for _, d := range redo {
		s.unmountLocked(d.ID)
		s.mountLocked(d)
	}
	return len(redo)
}

func changed(a, b model.Descriptor) bool {
	if a.URL != b.URL || a.Kind != b.Kind || !a.Options.Equal(b.Options) {
		return true
	}
	return a.EffectiveStyle() != b.EffectiveStyle()
}

func (s *Session) mountLocked(d model.Descriptor) {
	ctl := s.build(d)
	ctl.Mount(s.ctx)
	s.mounted[d.ID] = &mount{desc: d, ctl: ctl}
	s.order = append(s.order, d.ID)
	s.log.DebugContext(s.ctx, "layer mounted", "layer_id", d.ID, "kind", string(d.Kind))
}

func (s *Session) unmountLocked(id string) {
	m, ok := s.mounted[id]
	if !ok {
		return
	}
	m.ctl.Remove()
	delete(s.mounted, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.deps.Popups.Forget(id)
	s.popupMu.Lock()
	if s.popup != nil && s.popup.LayerID == id {
		s.popup = nil
	}
	s.popupMu.Unlock()
	s.log.DebugContext(s.ctx, "layer unmounted", "layer_id", id)
}

func (s *Session) build(d model.Descriptor) Controller {
	switch d.Kind {
	case model.KindGeoJSON:
		fit := false
		if d.Options.FitBounds != nil {
			fit = *d.Options.FitBounds
		}
		return vector.NewLayer(vector.Config{
			ID:             d.ID,
			URL:            d.URL,
			Style:          d.EffectiveStyle(),
			FitBounds:      fit,
			Policy:         s.opts.Policy,
			OnFeatureClick: s.featureClicked(d.ID),
		}, s.deps.Surface, s.deps.Fetcher, s.log)
	case model.KindGeoTIFF:
		cfg, err := raster.NewConfig(d, s.opts.Tuning)
		if err != nil {
			return &brokenLayer{id: d.ID, kind: d.Kind, err: err}
		}
		return raster.NewLayer(cfg, s.deps.Surface, s.deps.Fetcher, s.deps.Grids, s.log)
	case model.KindTiles:
		return tiles.NewLayer(d.ID, d.URL, tiles.OptionsFrom(d.Options), s.deps.Surface)
	default:
		return &brokenLayer{id: d.ID, kind: d.Kind, err: fmt.Errorf("%w: %q", model.ErrUnknownKind, d.Kind)}
	}
}

// Status reports the mounted controller for id.
func (s *Session) Status(id string) (model.LayerStatus, error) {
	ctl, err := s.controller(id)
	if err != nil {
		return model.LayerStatus{}, err
	}
	return ctl.Status(), nil
}

// Statuses lists every mounted controller in mount order.
func (s *Session) Statuses() []model.LayerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LayerStatus, 0, len(s.order)+1)
	if s.base != nil {
		out = append(out, s.base.Status())
	}
	for _, id := range s.order {
		out = append(out, s.mounted[id].ctl.Status())
	}
	return out
}

// WaitAll blocks until every mounted layer finished loading and joins their
// errors.
func (s *Session) WaitAll() error {
	s.mu.Lock()
	ctls := make([]Controller, 0, len(s.order))
	for _, id := range s.order {
		ctls = append(ctls, s.mounted[id].ctl)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range ctls {
		if err := c.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Status().ID, err))
		}
	}
	return errors.Join(errs...)
}

// RasterPNG writes the current rendering of a raster layer as PNG.
func (s *Session) RasterPNG(id string, w io.Writer) error {
	ctl, err := s.controller(id)
	if err != nil {
		return err
	}
	rl, ok := ctl.(*raster.Layer)
	if !ok {
		return ErrWrongKind
	}
	r := rl.Rendering()
	if r == nil {
		return ErrNoRendering
	}
	return r.EncodePNG(w)
}

// TileURL expands the tile template of a tile layer, including the base map.
func (s *Session) TileURL(id string, z, x, y int) (string, error) {
	if id == BaseLayerID && s.base != nil {
		return s.base.URL(z, x, y)
	}
	ctl, err := s.controller(id)
	if err != nil {
		return "", err
	}
	tl, ok := ctl.(*tiles.Layer)
	if !ok {
		return "", ErrWrongKind
	}
	return tl.URL(z, x, y)
}

// Legend describes the visible layers, base map excluded.
func (s *Session) Legend() []legend.Entry {
	return legend.Build(s.deps.Store.Layers())
}

func (s *Session) controller(id string) (Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	m, ok := s.mounted[id]
	if !ok {
		return nil, ErrNotMounted
	}
	return m.ctl, nil
}

// Close removes every layer and cancels pending loads. It does not close
// the surface.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, id := range slices.Clone(s.order) {
		s.unmountLocked(id)
	}
	s.mu.Unlock()

	if s.base != nil {
		s.base.Remove()
	}
	s.cancel()
}

// brokenLayer stands in for a layer whose descriptor could not be turned
// into a controller.
type brokenLayer struct {
	id   string
	kind model.LayerKind
	err  error
}

func (b *brokenLayer) Mount(context.Context) {}
func (b *brokenLayer) Wait() error           { return b.err }
func (b *brokenLayer) Remove()               {}
func (b *brokenLayer) Status() model.LayerStatus {
	return model.LayerStatus{ID: b.id, Kind: b.kind, State: "failed", Error: b.err.Error()}
}
