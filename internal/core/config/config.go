package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type MapCfg struct {
	CenterLat           float64
	CenterLng           float64
	Zoom                float64
	MaxZoom             float64
	BaseTileURL         string
	BaseTileAttribution string
}

type VectorCfg struct {
	LargeDatasetThreshold int
	MinZoomToLoad         float64
}

type RasterCfg struct {
	Resolution        int
	HighResDelay      time.Duration
	ZoomFactor        float64
	MinZoomResolution int
}

type FetchCacheCfg struct {
	Enabled bool
	TTL     time.Duration
}

type KafkaTopicCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	DataDir      string
	CatalogPath  string
	FetchTimeout time.Duration

	Map    MapCfg
	Vector VectorCfg
	Raster RasterCfg

	RedisAddr      string
	CacheOpTimeout time.Duration
	FetchCache     FetchCacheCfg

	PopupTextMaxLength int
	PopupCacheSize     int

	H3Res        int
	HotHalfLife  time.Duration
	HotThreshold float64
	HotLogSample int

	HitEvents    KafkaTopicCfg
	Invalidation KafkaTopicCfg

	MetricsEnabled bool
	MetricsAddr    string
}

const (
	DefaultBaseTileURL         = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultBaseTileAttribution = "&copy; OpenStreetMap contributors"
)

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 || res > 15 {
		res = 8
	}
	brokers := getenv("KAFKA_BROKERS", "localhost:9092")

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		DataDir:      getenv("DATA_DIR", "./public"),
		CatalogPath:  getenv("LAYER_CATALOG", ""),
		FetchTimeout: getduration("FETCH_TIMEOUT", 30*time.Second),

		Map: MapCfg{
			CenterLat:           getfloat("MAP_CENTER_LAT", 37.707887080446845),
			CenterLng:           getfloat("MAP_CENTER_LNG", -0.8613857940601074),
			Zoom:                getfloat("MAP_ZOOM", 12),
			MaxZoom:             getfloat("MAP_MAX_ZOOM", 19),
			BaseTileURL:         getenv("BASE_TILE_URL", DefaultBaseTileURL),
			BaseTileAttribution: getenv("BASE_TILE_ATTRIBUTION", DefaultBaseTileAttribution),
		},
		Vector: VectorCfg{
			LargeDatasetThreshold: getint("LARGE_DATASET_THRESHOLD", 2000),
			MinZoomToLoad:         getfloat("MIN_ZOOM_TO_LOAD", 12),
		},
		Raster: RasterCfg{
			Resolution:        getint("RASTER_RESOLUTION", 256),
			HighResDelay:      getduration("RASTER_HIGHRES_DELAY", 300*time.Millisecond),
			ZoomFactor:        getfloat("RASTER_ZOOM_FACTOR", 32),
			MinZoomResolution: getint("RASTER_MIN_ZOOM_RESOLUTION", 16),
		},

		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		FetchCache: FetchCacheCfg{
			Enabled: getbool("FETCH_CACHE_ENABLED", false),
			TTL:     getduration("FETCH_CACHE_TTL", 10*time.Minute),
		},

		PopupTextMaxLength: getint("POPUP_TEXT_MAX_LENGTH", 160),
		PopupCacheSize:     getint("POPUP_CACHE_SIZE", 1024),

		H3Res:        res,
		HotHalfLife:  getduration("HOT_HALF_LIFE", time.Minute),
		HotThreshold: getfloat("HOT_THRESHOLD", 10),
		HotLogSample: getint("LOG_HOTNESS_SAMPLE", 1),

		HitEvents: KafkaTopicCfg{
			Enabled: getbool("HIT_EVENTS_ENABLED", false),
			Topic:   getenv("HIT_EVENTS_TOPIC", "visor-clicks"),
			Brokers: brokers,
		},
		Invalidation: KafkaTopicCfg{
			Enabled: strings.ToLower(getenv("INVALIDATION_ENABLED", "false")) == "true",
			Topic:   getenv("KAFKA_TOPIC", "visor-invalidation"),
			Brokers: brokers,
			GroupID: getenv("KAFKA_GROUP_ID", "visor-invalidator"),
		},

		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ":9100"),
	}
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
