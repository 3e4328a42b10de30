package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/cache/redisstore"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/config"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/health"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/httpclient"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/observability"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/router"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/server"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hitevents"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hotness/expdecay"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/hotness/metricswrap"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/invalidation/kafkaconsumer"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/layers"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/logger"
	h3mapper "github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/mapper/h3"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/metrics"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/popup"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/raster"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/source"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/vector"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/viewer"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	addr := flag.String("addr", "", "listen address (overrides ADDR)")
	catalog := flag.String("catalog", "", "layer catalog TOML (overrides LAYER_CATALOG)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return 0
	}

	_ = godotenv.Load(*envFile)
	cfg := config.FromEnv()
	if *addr != "" {
		cfg.Addr = strings.TrimSpace(*addr)
	}
	if *catalog != "" {
		cfg.CatalogPath = strings.TrimSpace(*catalog)
	}

	zl := logger.Build(logger.Config{
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
		SampleN: cfg.LogSampleN,
		Service: "visor",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	appLog.Info("starting visor", "addr", cfg.Addr, "version", Version, "data_dir", cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.MetricsAddr,
			Path:    os.Getenv("METRICS_PATH"),
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(p.Registerer(), true)
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	specs, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		appLog.Error("load catalog", "err", err)
		return 1
	}
	store, err := layers.New(specs)
	if err != nil {
		appLog.Error("build layer store", "err", err)
		return 1
	}

	var fetcher source.Fetcher = source.NewHTTPFetcher(
		httpclient.NewOutbound(cfg.FetchTimeout),
		source.Options{DataDir: cfg.DataDir},
		appLog,
	)
	var (
		cached *source.Cached
		ready  []health.Check
	)
	if cfg.FetchCache.Enabled {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		cached = source.NewCached(fetcher, rc, cfg.FetchCache.TTL, cfg.CacheOpTimeout, appLog)
		fetcher = cached
		ready = append(ready, health.Check{Name: "redis", Pinger: rc})
	}

	popups, err := popup.NewCache(cfg.PopupCacheSize, popup.Config{
		TextMaxLength: cfg.PopupTextMaxLength,
		MaxWidth:      popup.DefaultConfig().MaxWidth,
		MaxHeight:     popup.DefaultConfig().MaxHeight,
	})
	if err != nil {
		appLog.Error("popup cache", "err", err)
		return 1
	}

	hotLog := zl.With().Str("component", "hotness").Logger()
	hot := metricswrap.New(expdecay.New(cfg.HotHalfLife), metricswrap.Options{
		HotThreshold: cfg.HotThreshold,
		LogSample:    float64(cfg.HotLogSample),
	}, &hotLog)

	grids := raster.NewCache()
	deps := viewer.Deps{
		Store: store,
		Surface: surface.NewMap(surface.MapOptions{
			Center:  orb.Point{cfg.Map.CenterLng, cfg.Map.CenterLat},
			Zoom:    cfg.Map.Zoom,
			MaxZoom: cfg.Map.MaxZoom,
		}),
		Fetcher: fetcher,
		Grids:   grids,
		Popups:  popups,
		Hotness: hot,
		Cells:   h3mapper.New(),
		Logger:  appLog,
	}

	if cfg.HitEvents.Enabled {
		pub, err := hitevents.NewPublisher(config.SplitCSV(cfg.HitEvents.Brokers), cfg.HitEvents.Topic, 1024, appLog)
		if err != nil {
			appLog.Error("hit events producer", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		deps.Events = pub
	}

	sess, err := viewer.New(ctx, deps, viewer.Options{
		BaseTileURL:         cfg.Map.BaseTileURL,
		BaseTileAttribution: cfg.Map.BaseTileAttribution,
		Policy: vector.Policy{
			Threshold: cfg.Vector.LargeDatasetThreshold,
			MinZoom:   cfg.Vector.MinZoomToLoad,
		},
		Tuning: raster.Tuning{
			Resolution:        cfg.Raster.Resolution,
			HighResDelay:      cfg.Raster.HighResDelay,
			ZoomFactor:        cfg.Raster.ZoomFactor,
			MinZoomResolution: cfg.Raster.MinZoomResolution,
		},
		H3Res: cfg.H3Res,
	})
	if err != nil {
		appLog.Error("viewer setup failed", "err", err)
		return 1
	}
	defer sess.Close()

	if cfg.Invalidation.Enabled {
		targets := kafkaconsumer.Targets{Grids: grids, Layers: sess}
		if cached != nil {
			targets.Sources = cached
		}
		c := kafkaconsumer.New(kafkaconsumer.FromTopicCfg(cfg.Invalidation), appLog, targets)
		go func() {
			if err := c.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	go logStatuses(ctx, sess, appLog)

	api := router.New(store, sess, appLog)
	if err := server.Run(ctx, server.Options{
		Addr:    cfg.Addr,
		Metrics: promhttp.Handler(),
		Ready:   ready,
	}, appLog, api); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// logStatuses reports the outcome of the initial layer loads once.
func logStatuses(ctx context.Context, sess *viewer.Session, log *slog.Logger) {
	done := make(chan error, 1)
	go func() { done <- sess.WaitAll() }()
	select {
	case <-ctx.Done():
		return
	case err := <-done:
		if err != nil {
			log.Warn("some layers failed to load", "err", err)
		}
	case <-time.After(2 * time.Minute):
		log.Warn("layers still loading after 2m")
		return
	}
	for _, st := range sess.Statuses() {
		log.Info("layer", "id", st.ID, "kind", string(st.Kind), "state", st.State)
	}
}
