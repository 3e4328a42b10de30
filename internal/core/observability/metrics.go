package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by cache and outcome.",
		},
		[]string{"cache", "outcome"},
	)

	cacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	layerLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_loads_total",
			Help: "Layer mount outcomes by kind.",
		},
		[]string{"kind", "outcome"},
	)

	rasterRenders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raster_renders_total",
			Help: "Raster renderings by progressive phase.",
		},
		[]string{"phase"},
	)

	rasterRenderSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raster_render_duration_seconds",
			Help:    "Time to colour-map one raster rendering.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"phase"},
	)

	hitTestSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hittest_duration_seconds",
			Help:    "Time to hit-test one click against one layer.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		},
	)

	hitTestMatches = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hittest_matches",
			Help:    "Features matched per hit test.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 64},
		},
	)

	invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidations_total",
			Help: "Cache invalidation events by op and result.",
		},
		[]string{"op", "result"},
	)

	kafkaConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	clickEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "click_events_dropped_total",
			Help: "Click events dropped because the publish queue was full.",
		},
	)

	hotCells = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hot_cells",
			Help: "Number of H3 cells tracked by the click hotness tracker.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		cacheResults, cacheOps, redisOpDuration,
		layerLoads, rasterRenders, rasterRenderSeconds,
		hitTestSeconds, hitTestMatches,
		invalidations, kafkaConsumerErrors, clickEventsDropped, hotCells,
	}
}

// Init additionally registers the collectors on reg, e.g. a dedicated metrics
// registry. Collectors are always registered on the default registry.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncCacheHit(cache string)  { cacheResults.WithLabelValues(cache, "hit").Inc() }
func IncCacheMiss(cache string) { cacheResults.WithLabelValues(cache, "miss").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOps.WithLabelValues(op, result).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

// ObserveLayerLoad records how a layer mount ended: ok, deferred, error or
// cancelled.
func ObserveLayerLoad(kind, outcome string) {
	layerLoads.WithLabelValues(kind, outcome).Inc()
}

func ObserveRasterRender(phase string, durationSeconds float64) {
	rasterRenders.WithLabelValues(phase).Inc()
	rasterRenderSeconds.WithLabelValues(phase).Observe(durationSeconds)
}

func ObserveHitTest(matches int, durationSeconds float64) {
	hitTestSeconds.Observe(durationSeconds)
	hitTestMatches.Observe(float64(matches))
}

func ObserveInvalidation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidations.WithLabelValues(op, result).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func IncClickEventDropped() { clickEventsDropped.Inc() }

func SetHotCells(n int) { hotCells.Set(float64(n)) }
