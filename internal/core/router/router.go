// Package router exposes the layer store and the viewer session over HTTP.
package router

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/layers"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/viewer"
)

const (
	defaultHotspots = 10
	maxBodyBytes    = 1 << 20
)

type API struct {
	store   *layers.Store
	session *viewer.Session
	logger  *slog.Logger
}

func New(store *layers.Store, session *viewer.Session, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{store: store, session: session, logger: logger}
}

// Routes registers the API under /api.
func (a *API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/layers", func(r chi.Router) {
			r.Get("/", a.listLayers)
			r.Post("/", a.addLayer)
			r.Post("/show-all", a.setAll(true))
			r.Post("/hide-all", a.setAll(false))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getLayer)
				r.Delete("/", a.removeLayer)
				r.Post("/toggle", a.toggleLayer)
				r.Patch("/options", a.patchOptions)
				r.Get("/status", a.layerStatus)
				r.Get("/raster.png", a.rasterPNG)
				r.Get("/tiles/{z}/{x}/{y}", a.tile)
			})
		})
		r.Get("/status", a.statuses)
		r.Get("/legend", a.legend)
		r.Get("/map", a.mapState)
		r.Post("/map/zoom", a.setZoom)
		r.Post("/map/click", a.click)
		r.Get("/query", a.query)
		r.Get("/query/hotspots", a.hotspots)
	})
}

func (a *API) listLayers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Layers())
}

func (a *API) addLayer(w http.ResponseWriter, r *http.Request) {
	var spec model.LayerSpec
	if err := decodeBody(w, r, &spec); err != nil {
		a.writeError(w, r, badRequest(err))
		return
	}
	d, err := a.store.Add(spec)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.session.Sync()
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) setAll(visible bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if visible {
			a.store.ShowAll()
		} else {
			a.store.HideAll()
		}
		a.session.Sync()
		writeJSON(w, http.StatusOK, a.store.Layers())
	}
}

func (a *API) getLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := a.store.Get(id)
	if !ok {
		a.writeError(w, r, fmt.Errorf("get %q: %w", id, layers.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) removeLayer(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Remove(chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.session.Sync()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) toggleLayer(w http.ResponseWriter, r *http.Request) {
	var visible *bool
	if raw := r.URL.Query().Get("visible"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			a.writeError(w, r, badRequest(fmt.Errorf("visible: %w", err)))
			return
		}
		visible = &v
	}
	d, err := a.store.Toggle(chi.URLParam(r, "id"), visible)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.session.Sync()
	writeJSON(w, http.StatusOK, d)
}

func (a *API) patchOptions(w http.ResponseWriter, r *http.Request) {
	var patch model.LayerOptions
	if err := decodeBody(w, r, &patch); err != nil {
		a.writeError(w, r, badRequest(err))
		return
	}
	d, err := a.store.SetOptions(chi.URLParam(r, "id"), patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.session.Sync()
	writeJSON(w, http.StatusOK, d)
}

// layerStatus reports hidden layers as unmounted rather than missing.
func (a *API) layerStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := a.session.Status(id)
	if errors.Is(err, viewer.ErrNotMounted) {
		if d, ok := a.store.Get(id); ok {
			writeJSON(w, http.StatusOK, model.LayerStatus{ID: d.ID, Kind: d.Kind, State: "unmounted"})
			return
		}
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) statuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Statuses())
}

func (a *API) rasterPNG(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := a.session.RasterPNG(chi.URLParam(r, "id"), &buf); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *API) tile(w http.ResponseWriter, r *http.Request) {
	var zxy [3]int
	for i, name := range []string{"z", "x", "y"} {
		raw := strings.TrimSuffix(chi.URLParam(r, name), ".png")
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.writeError(w, r, badRequest(fmt.Errorf("%s: %w", name, err)))
			return
		}
		zxy[i] = n
	}
	u, err := a.session.TileURL(chi.URLParam(r, "id"), zxy[0], zxy[1], zxy[2])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (a *API) legend(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Legend())
}

func (a *API) mapState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.MapState())
}

func (a *API) setZoom(w http.ResponseWriter, r *http.Request) {
	z, err := queryFloat(r, "z")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.session.SetZoom(z); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.session.MapState())
}

func (a *API) click(w http.ResponseWriter, r *http.Request) {
	lng, lat, err := lngLat(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.session.Click(lng, lat)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"popup": p})
}

func (a *API) query(w http.ResponseWriter, r *http.Request) {
	lng, lat, err := lngLat(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.session.Query(lng, lat))
}

func (a *API) hotspots(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "n", defaultHotspots)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := queryInt(r, "res", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if res < 0 || res > 15 {
		a.writeError(w, r, badRequest(fmt.Errorf("res %d not in [0, 15]", res)))
		return
	}
	fc, err := a.session.Hotspots(n, res)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	b, err := fc.MarshalJSON()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	_, _ = w.Write(b)
}
