package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/image/tiff"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hitevents"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hotness/expdecay"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/layers"
	h3mapper "github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/mapper/h3"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/raster"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
)

type mapFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
	calls map[string]int
	total atomic.Int32
}

func (f *mapFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.total.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[url]++
	b, ok := f.files[url]
	if !ok {
		return nil, fmt.Errorf("fetch %s: not found", url)
	}
	return b, nil
}

func (f *mapFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type recordingPublisher struct {
	mu  sync.Mutex
	evs []hitevents.Event
}

func (p *recordingPublisher) Publish(ev hitevents.Event) {
	p.mu.Lock()
	p.evs = append(p.evs, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) events() []hitevents.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.evs)
}

// squares is a row of unit squares starting at x0, each named <prefix><i>.
func squares(t *testing.T, prefix string, x0 float64, n int) []byte {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for i := range n {
		x := x0 + float64(i)
		f := geojson.NewFeature(orb.Polygon{{{x, 0}, {x + 1, 0}, {x + 1, 1}, {x, 1}, {x, 0}}})
		f.Properties["name"] = fmt.Sprintf("%s%d", prefix, i)
		fc.Append(f)
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func grayTIFF(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, 4, 4))
	for i := range 16 {
		img.Pix[i*2+1] = uint8(i % 4)
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	store  *layers.Store
	surf   *surface.Map
	fetch  *mapFetcher
	events *recordingPublisher
	s      *Session
}

func newFixture(t *testing.T, specs []model.LayerSpec) *fixture {
	t.Helper()
	store, err := layers.New(specs)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	fx := &fixture{
		store: store,
		surf:  surface.NewMap(surface.MapOptions{Center: orb.Point{1, 0.5}, Zoom: 12}),
		fetch: &mapFetcher{files: map[string][]byte{
			"/capas/parcelas.geojson": squares(t, "p", 0, 3),
			"/capas/zonas.geojson":    squares(t, "z", 1, 1),
			"/capas/cambio.tif":       grayTIFF(t),
		}},
		events: &recordingPublisher{},
	}
	s, err := New(context.Background(), Deps{
		Store:   store,
		Surface: fx.surf,
		Fetcher: fx.fetch,
		Grids:   raster.NewCache(),
		Hotness: expdecay.New(time.Minute),
		Cells:   h3mapper.New(),
		Events:  fx.events,
	}, Options{
		BaseTileURL:         "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		BaseTileAttribution: "OSM",
		Tuning:              raster.Tuning{Resolution: 32, HighResDelay: time.Millisecond},
		H3Res:               8,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.WaitAll(); err != nil {
		t.Fatalf("WaitAll: %v", err)
	}
	fx.s = s
	return fx
}

func hidden() *bool { return model.Ptr(false) }

func defaultSpecs() []model.LayerSpec {
	return []model.LayerSpec{
		{ID: "parcelas", Kind: "GeoJSON", URL: "/capas/parcelas.geojson"},
		{ID: "zonas", Kind: "GeoJSON", URL: "/capas/zonas.geojson"},
		{ID: "cambio", Kind: "GeoTIFF", URL: "/capas/cambio.tif"},
		{ID: "relieve", Kind: "TILES", URL: "https://tiles.example.org/{z}/{x}/{y}.png"},
		{ID: "oculta", Kind: "GeoJSON", URL: "/capas/oculta.geojson", Visible: hidden()},
	}
}

func TestSession_MountsVisibleLayers(t *testing.T) {
	fx := newFixture(t, defaultSpecs())

	st := fx.s.MapState()
	want := []string{"base", "parcelas", "zonas", "cambio", "relieve"}
	for _, id := range want {
		if !slices.Contains(st.Layers, id) {
			t.Fatalf("layer %s not attached: %v", id, st.Layers)
		}
	}
	if len(st.Layers) != len(want) {
		t.Fatalf("attached=%v", st.Layers)
	}
	if _, err := fx.s.Status("oculta"); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("hidden layer mounted: %v", err)
	}
	if fx.fetch.count("/capas/oculta.geojson") != 0 {
		t.Fatalf("hidden layer fetched")
	}
	if n := len(fx.s.Statuses()); n != 5 {
		t.Fatalf("statuses=%d", n)
	}
	if len(fx.s.Legend()) != 4 {
		t.Fatalf("legend=%v", fx.s.Legend())
	}
}

func TestSession_SyncFollowsStore(t *testing.T) {
	fx := newFixture(t, defaultSpecs())

	if _, err := fx.store.Toggle("zonas", nil); err != nil {
		t.Fatal(err)
	}
	fx.s.Sync()
	if _, err := fx.s.Status("zonas"); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("toggled-off layer still mounted: %v", err)
	}
	if slices.Contains(fx.s.MapState().Layers, "zonas") {
		t.Fatalf("toggled-off layer still attached")
	}

	before := fx.s.mounted["cambio"].ctl
	if _, err := fx.store.SetOptions("cambio", model.LayerOptions{Opacity: model.Ptr(0.3)}); err != nil {
		t.Fatal(err)
	}
	fx.s.Sync()
	if err := fx.s.WaitAll(); err != nil {
		t.Fatalf("WaitAll: %v", err)
	}
	after := fx.s.mounted["cambio"].ctl
	if before == after {
		t.Fatalf("changed options must remount")
	}
	if fx.fetch.count("/capas/cambio.tif") != 1 {
		t.Fatalf("remount refetched a cached grid")
	}
	unchanged := fx.s.mounted["parcelas"].ctl
	fx.s.Sync()
	if fx.s.mounted["parcelas"].ctl != unchanged {
		t.Fatalf("unchanged layer remounted")
	}

	if _, err := fx.store.Add(model.LayerSpec{ID: "nueva", URL: "/capas/zonas.geojson"}); err != nil {
		t.Fatal(err)
	}
	fx.s.Sync()
	if err := fx.s.WaitAll(); err != nil {
		t.Fatalf("WaitAll: %v", err)
	}
	if st, err := fx.s.Status("nueva"); err != nil || st.Features != 1 {
		t.Fatalf("status=%+v err=%v", st, err)
	}
}

func TestSession_ClickOpensPopupAndRecords(t *testing.T) {
	fx := newFixture(t, defaultSpecs())

	p, err := fx.s.Click(0.5, 0.5)
	if err != nil {
		t.Fatalf("Click: %v", err)
	}
	if p == nil || p.LayerID != "parcelas" || !strings.Contains(p.HTML, "p0") {
		t.Fatalf("popup=%+v", p)
	}
	if p.MaxWidth != 400 || p.MaxHeight != 260 {
		t.Fatalf("popup size=%dx%d", p.MaxWidth, p.MaxHeight)
	}

	// both vector layers cover (1.5, 0.5); the later one opens its popup
	p, _ = fx.s.Click(1.5, 0.5)
	if p == nil || p.LayerID != "zonas" {
		t.Fatalf("popup=%+v", p)
	}
	if p, _ := fx.s.Click(50, 50); p != nil {
		t.Fatalf("empty click opened %+v", p)
	}

	evs := fx.events.events()
	if len(evs) != 3 {
		t.Fatalf("events=%d", len(evs))
	}
	if evs[1].Matches != 2 || !slices.Equal(evs[1].Layers, []string{"parcelas", "zonas"}) || evs[1].Cell == "" {
		t.Fatalf("event=%+v", evs[1])
	}

	fc, err := fx.s.Hotspots(10, 0)
	if err != nil {
		t.Fatalf("Hotspots: %v", err)
	}
	if len(fc.Features) == 0 || fc.Features[0].Properties.MustFloat64("score") < 0.99 {
		t.Fatalf("hotspots=%v", fc.Features)
	}
	if len(fc.Features) != 3 {
		t.Fatalf("hotspots=%d want one per clicked cell", len(fc.Features))
	}

	m := h3mapper.New()
	parents := map[string]bool{}
	for _, ev := range evs {
		p, err := m.ToParent(ev.Cell, 2)
		if err != nil {
			t.Fatal(err)
		}
		parents[p] = true
	}
	rolled, err := fx.s.Hotspots(10, 2)
	if err != nil {
		t.Fatalf("Hotspots rollup: %v", err)
	}
	if len(rolled.Features) != len(parents) {
		t.Fatalf("rolled=%d want %d", len(rolled.Features), len(parents))
	}
	total := 0.0
	for _, f := range rolled.Features {
		total += f.Properties.MustFloat64("score")
	}
	if total < 2.99 || total > 3 {
		t.Fatalf("rolled scores sum=%v want ~3", total)
	}
}

func TestSession_QueryListsEveryMatch(t *testing.T) {
	fx := newFixture(t, defaultSpecs())

	res := fx.s.Query(1.5, 0.5)
	if len(res.Hits) != 2 || res.Hits[0].LayerID != "parcelas" || res.Hits[1].LayerID != "zonas" {
		t.Fatalf("hits=%+v", res.Hits)
	}
	if !strings.Contains(res.Hits[0].Popup, "p1") {
		t.Fatalf("popup=%s", res.Hits[0].Popup)
	}
	if got := fx.s.Query(-5, -5); len(got.Hits) != 0 {
		t.Fatalf("hits=%+v", got.Hits)
	}
	if len(fx.events.events()) != 0 {
		t.Fatalf("queries must not be recorded as clicks")
	}
}

func TestSession_Reload(t *testing.T) {
	fx := newFixture(t, defaultSpecs())

	if n := fx.s.Reload(context.Background(), "/capas/parcelas.geojson"); n != 1 {
		t.Fatalf("reloaded=%d", n)
	}
	if err := fx.s.WaitAll(); err != nil {
		t.Fatal(err)
	}
	if got := fx.fetch.count("/capas/parcelas.geojson"); got != 2 {
		t.Fatalf("fetches=%d want 2", got)
	}
	if n := fx.s.Reload(context.Background(), ""); n != 3 {
		t.Fatalf("reload all=%d want 3 data layers", n)
	}
}

func TestSession_RasterAndTiles(t *testing.T) {
	fx := newFixture(t, defaultSpecs())

	var buf bytes.Buffer
	if err := fx.s.RasterPNG("cambio", &buf); err != nil {
		t.Fatalf("RasterPNG: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("not a png")
	}
	if err := fx.s.RasterPNG("parcelas", &buf); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("want ErrWrongKind, got %v", err)
	}

	u, err := fx.s.TileURL("relieve", 3, 7, 7)
	if err != nil || u != "https://tiles.example.org/3/7/7.png" {
		t.Fatalf("tile url=%q err=%v", u, err)
	}
	u, err = fx.s.TileURL(BaseLayerID, 1, 0, 0)
	if err != nil || u != "https://a.tile.openstreetmap.org/1/0/0.png" {
		t.Fatalf("base url=%q err=%v", u, err)
	}
	if _, err := fx.s.TileURL("relieve", 3, 8, 0); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestSession_BrokenDescriptorReportsFailure(t *testing.T) {
	store, _ := layers.New([]model.LayerSpec{{
		ID: "mala", Kind: "GeoTIFF", URL: "/x.tif",
		Options: model.LayerOptions{Palette: []string{"zz"}},
	}})
	s, err := New(context.Background(), Deps{
		Store:   store,
		Surface: surface.NewMap(surface.MapOptions{}),
		Fetcher: &mapFetcher{},
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.WaitAll(); err == nil {
		t.Fatalf("expected palette error")
	}
	st, err := s.Status("mala")
	if err != nil || st.State != "failed" || st.Error == "" {
		t.Fatalf("status=%+v err=%v", st, err)
	}
}

func TestSession_CloseCleansSurface(t *testing.T) {
	fx := newFixture(t, defaultSpecs())
	fx.s.Close()
	fx.s.Close()

	if n := len(fx.surf.Layers()); n != 0 {
		t.Fatalf("attached after close=%d", n)
	}
	if z, c := fx.surf.ListenerCount(); z != 0 || c != 0 {
		t.Fatalf("listeners zoom=%d click=%d", z, c)
	}
	if _, err := fx.s.Status("parcelas"); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}
