package viewer

import (
	"cmp"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hitevents"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hotness"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/popup"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/vector"
)

type Hit struct {
	LayerID string           `json:"layerId"`
	Feature *geojson.Feature `json:"feature"`
	Popup   string           `json:"popup"`
}

type QueryResult struct {
	Point orb.Point `json:"point"`
	Hits  []Hit     `json:"hits"`
}

type MapState struct {
	Zoom     float64           `json:"zoom"`
	Center   orb.Point         `json:"center"`
	Layers   []string          `json:"layers"`
	Overlays []surface.Overlay `json:"overlays"`
	Popup    *popup.Popup      `json:"popup,omitempty"`
}

// Query hit-tests (lng, lat) against every mounted vector layer, in mount
// order, and returns each match with its popup HTML.
func (s *Session) Query(lng, lat float64) QueryResult {
	res := QueryResult{Point: orb.Point{lng, lat}, Hits: []Hit{}}
	for _, vl := range s.vectorLayers() {
		id := vl.Status().ID
		for _, f := range vl.FeaturesAt(lng, lat) {
			res.Hits = append(res.Hits, Hit{LayerID: id, Feature: f, Popup: s.deps.Popups.Content(id, f)})
		}
	}
	return res
}

// Click delivers a click to the map the way a pointer would. It returns the
// popup opened by the click, if any, and records the click for hotness and
// the event stream. With several layers under the pointer the popup comes
// from the last mounted one.
func (s *Session) Click(lng, lat float64) (*popup.Popup, error) {
	s.clickMu.Lock()
	defer s.clickMu.Unlock()

	pt := orb.Point{lng, lat}
	s.popupMu.Lock()
	s.popup, s.candidates = nil, nil
	s.popupMu.Unlock()

	if err := s.deps.Surface.Click(pt); err != nil {
		return nil, err
	}

	s.mu.Lock()
	order := slices.Clone(s.order)
	s.mu.Unlock()
	s.popupMu.Lock()
	best := -1
	for i, c := range s.candidates {
		if best < 0 || slices.Index(order, c.LayerID) > slices.Index(order, s.candidates[best].LayerID) {
			best = i
		}
	}
	if best >= 0 {
		p := s.candidates[best]
		s.popup = &p
	}
	s.candidates = nil
	s.popupMu.Unlock()

	s.recordClick(pt)
	return s.CurrentPopup(), nil
}

// SetZoom moves the map, which lets deferred and raster layers react.
func (s *Session) SetZoom(z float64) error {
	return s.deps.Surface.SetZoom(z)
}

func (s *Session) MapState() MapState {
	m := s.deps.Surface
	st := MapState{
		Zoom:     m.Zoom(),
		Center:   m.Center(),
		Layers:   []string{},
		Overlays: m.Overlays(),
		Popup:    s.CurrentPopup(),
	}
	for _, l := range m.Layers() {
		st.Layers = append(st.Layers, l.LayerID())
	}
	if st.Overlays == nil {
		st.Overlays = []surface.Overlay{}
	}
	return st
}

func (s *Session) CurrentPopup() *popup.Popup {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()
	if s.popup == nil {
		return nil
	}
	p := *s.popup
	return &p
}

// featureClicked offers a popup for the first feature under a click; Click
// picks among the offers.
func (s *Session) featureClicked(layerID string) vector.ClickFunc {
	return func(f *geojson.Feature, pt orb.Point) {
		html := s.deps.Popups.Content(layerID, f)
		p := popup.New(layerID, pt, html, s.deps.Popups.Config())
		s.popupMu.Lock()
		s.candidates = append(s.candidates, p)
		s.popupMu.Unlock()
	}
}

func (s *Session) recordClick(pt orb.Point) {
	if s.deps.Hotness == nil && s.deps.Events == nil {
		return
	}
	var cell string
	if s.deps.Cells != nil {
		c, err := s.deps.Cells.CellForPoint(pt, s.opts.H3Res)
		if err != nil {
			s.log.DebugContext(s.ctx, "click outside cell grid", "lng", pt[0], "lat", pt[1], "err", err)
		} else {
			cell = c
		}
	}
	if s.deps.Hotness != nil && cell != "" {
		s.deps.Hotness.Inc(cell)
	}
	if s.deps.Events == nil {
		return
	}
	ev := hitevents.Event{Lon: pt[0], Lat: pt[1], Cell: cell, Layers: []string{}, TS: s.now().UTC()}
	for _, vl := range s.vectorLayers() {
		if n := len(vl.FeaturesAt(pt[0], pt[1])); n > 0 {
			ev.Layers = append(ev.Layers, vl.Status().ID)
			ev.Matches += n
		}
	}
	s.deps.Events.Publish(ev)
}

// Hotspots returns the n hottest clicked cells as polygons. A res coarser
// than the tracking resolution rolls scores up to parent cells.
func (s *Session) Hotspots(n, res int) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	if s.deps.Hotness == nil || s.deps.Cells == nil {
		return fc, nil
	}

	var top []hotness.CellScore
	if res <= 0 || res >= s.opts.H3Res {
		top = s.deps.Hotness.Top(n)
	} else {
		sums := map[string]float64{}
		for _, cs := range s.deps.Hotness.Top(0) {
			p, err := s.deps.Cells.ToParent(cs.Cell, res)
			if err != nil {
				return nil, err
			}
			sums[p] += cs.Score
		}
		for c, v := range sums {
			top = append(top, hotness.CellScore{Cell: c, Score: v})
		}
		slices.SortFunc(top, func(a, b hotness.CellScore) int {
			if c := cmp.Compare(b.Score, a.Score); c != 0 {
				return c
			}
			return cmp.Compare(a.Cell, b.Cell)
		})
		if n > 0 && len(top) > n {
			top = top[:n]
		}
	}

	for _, cs := range top {
		poly, err := s.deps.Cells.CellBoundary(cs.Cell)
		if err != nil {
			return nil, err
		}
		f := geojson.NewFeature(poly)
		f.ID = cs.Cell
		f.Properties["cell"] = cs.Cell
		f.Properties["score"] = cs.Score
		fc.Append(f)
	}
	return fc, nil
}

func (s *Session) vectorLayers() []*vector.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*vector.Layer
	for _, id := range s.order {
		if vl, ok := s.mounted[id].ctl.(*vector.Layer); ok {
			out = append(out, vl)
		}
	}
	return out
}
