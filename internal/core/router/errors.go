package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/layers"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/tiles"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/viewer"
)

var errBadRequest = errors.New("bad request")

func badRequest(err error) error { return fmt.Errorf("%w: %w", errBadRequest, err) }

func statusOf(err error) int {
	switch {
	case errors.Is(err, layers.ErrNotFound), errors.Is(err, viewer.ErrNotMounted):
		return http.StatusNotFound
	case errors.Is(err, layers.ErrDuplicateID), errors.Is(err, viewer.ErrNoRendering):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrUnknownKind),
		errors.Is(err, viewer.ErrWrongKind),
		errors.Is(err, surface.ErrNonFinite),
		errors.Is(err, tiles.ErrZoomOutOfRange),
		errors.Is(err, tiles.ErrTileOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, viewer.ErrClosed), errors.Is(err, surface.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func queryFloat(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, badRequest(fmt.Errorf("missing required parameter: %s", name))
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, badRequest(fmt.Errorf("%s: %w", name, err))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, badRequest(fmt.Errorf("%s must be a finite number", name))
	}
	return f, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(fmt.Errorf("%s: %w", name, err))
	}
	return n, nil
}

func lngLat(r *http.Request) (float64, float64, error) {
	lng, err := queryFloat(r, "lng")
	if err != nil {
		return 0, 0, err
	}
	lat, err := queryFloat(r, "lat")
	if err != nil {
		return 0, 0, err
	}
	if lng < -180 || lng > 180 {
		return 0, 0, badRequest(errors.New("longitude must be in [-180,180]"))
	}
	if lat < -90 || lat > 90 {
		return 0, 0, badRequest(errors.New("latitude must be in [-90,90]"))
	}
	return lng, lat, nil
}
