package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/cache/redisstore"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/health"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/router"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/layers"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/source"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/viewer"
)

func newAPI(t *testing.T, logger *slog.Logger) *router.API {
	t.Helper()
	store, err := layers.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := viewer.New(context.Background(), viewer.Deps{
		Store:   store,
		Surface: surface.NewMap(surface.MapOptions{Center: orb.Point{0, 0}, Zoom: 3}),
		Fetcher: source.NewHTTPFetcher(nil, source.Options{}, logger),
		Logger:  logger,
	}, viewer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sess.Close)
	return router.New(store, sess, logger)
}

func TestHandler_ProbesMetricsAndAPI(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	h := Handler(Options{
		Metrics: promhttp.Handler(),
		Ready:   []health.Check{{Name: "redis", Pinger: rc}},
	}, logger, newAPI(t, logger))

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	if rr := get("/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rr.Code)
	}
	if rr := get("/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("readyz=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := get("/api/layers"); rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("layers=%d body=%q", rr.Code, rr.Body.String())
	}
	if rr := get("/api/layers"); rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	rr := get("/metrics")
	if !strings.Contains(rr.Body.String(), `route="/api/layers/"`) && !strings.Contains(rr.Body.String(), `route="/api/layers"`) {
		t.Fatalf("metrics missing api route series")
	}

	mr.SetError("LOADING")
	if rr := get("/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with redis down=%d", rr.Code)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{Addr: "127.0.0.1:0"}, logger, newAPI(t, logger)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
