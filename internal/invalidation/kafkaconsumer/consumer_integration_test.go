package kafkaconsumer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/cache/keys"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/cache/redisstore"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/observability"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/invalidation"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/invalidation/kafkaconsumer"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/metrics"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/raster"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/source"
)

type noFetch struct{}

func (noFetch) Fetch(context.Context, string) ([]byte, error) { return nil, nil }

func TestIntegration_Miniredis_EvictAndMetrics(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	observability.Init(p.Registerer(), true)

	mr := miniredis.RunT(t)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	const a, b = "/capas/cambio.tif", "/capas/parcelas.geojson"
	_ = mr.Set(keys.SourceKey(a), "tiff")
	_ = mr.Set(keys.SourceKey(b), "{}")
	grids := raster.NewCache()
	grids.Put(a, &raster.Grid{Width: 1, Height: 1, Values: []float64{1}})

	cons := kafkaconsumer.New(kafkaconsumer.Config{Topic: "t"}, nil, kafkaconsumer.Targets{
		Grids:   grids,
		Sources: source.NewCached(noFetch{}, rc, time.Minute, time.Second, nil),
	})

	body, _ := json.Marshal(invalidation.Event{Version: 1, Op: invalidation.OpEvict, URL: a, TS: time.Now().UTC()})
	if err := cons.ProcessOne(context.Background(), &sarama.ConsumerMessage{Topic: "t", Offset: 1, Value: body}); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if mr.Exists(keys.SourceKey(a)) || grids.Len() != 0 {
		t.Fatalf("evicted source still cached")
	}
	if !mr.Exists(keys.SourceKey(b)) {
		t.Fatalf("unrelated source evicted")
	}

	body, _ = json.Marshal(invalidation.Event{Version: 1, Op: invalidation.OpClear, TS: time.Now().UTC()})
	if err := cons.ProcessOne(context.Background(), &sarama.ConsumerMessage{Topic: "t", Offset: 2, Value: body}); err != nil {
		t.Fatalf("ProcessOne clear: %v", err)
	}
	if mr.Exists(keys.SourceKey(b)) {
		t.Fatalf("clear left a source behind")
	}

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rr.Body.String()
	for _, s := range []string{`invalidations_total{op="evict",result="ok"}`, `invalidations_total{op="clear",result="ok"}`} {
		if !strings.Contains(out, s) {
			t.Fatalf("metrics missing %q; got:\n%s", s, out)
		}
	}
}
