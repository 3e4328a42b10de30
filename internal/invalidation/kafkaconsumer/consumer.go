// Package kafkaconsumer applies invalidation events from a Kafka topic to the
// raster grid cache, the fetched-bytes cache and the mounted layers.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/observability"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/invalidation"
	mylog "github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/logger"
)

// GridCache is the in-process raster cache.
type GridCache interface {
	Delete(url string) bool
	Clear() int
}

// SourceCache is the shared cache of fetched bytes.
type SourceCache interface {
	Invalidate(ctx context.Context, url string) error
	Clear(ctx context.Context) (int, error)
}

// Reloader remounts the layers reading url, or every data layer for "".
type Reloader interface {
	Reload(ctx context.Context, url string) int
}

type Targets struct {
	Grids   GridCache
	Sources SourceCache
	Layers  Reloader
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	t      Targets
	dedupe *invalidation.Dedupe
}

func New(cfg Config, logger *slog.Logger, t Targets) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		t:      t,
		dedupe: invalidation.NewDedupe(8192),
	}
}

// Start consumes the invalidation topic until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.t.Grids == nil && c.t.Sources == nil {
		return errors.New("kafkaconsumer: nothing to invalidate (grids/sources)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := &groupHandler{process: c.ProcessOne}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			obs.IncKafkaConsumerError("consume")
			c.logger.ErrorContext(ctx, "kafka consumer error",
				"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "err", err)
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne applies a single invalidation message. Invalid or stale events
// are skipped without error so they do not block the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logger.ErrorContext(ctx, "kafka error",
			"kind", "decode", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("invalid")
		c.logger.WarnContext(ctx, "invalidation event rejected",
			"offset", msg.Offset, "err", err)
		return nil
	}
	if !c.dedupe.ShouldApply(ev.DedupeKey(), ev.Seq) {
		c.logger.DebugContext(ctx, "stale invalidation skipped", "url", ev.URL, "seq", ev.Seq)
		return nil
	}

	var err error
	switch ev.Op {
	case invalidation.OpEvict:
		err = c.evict(ctx, ev.URL)
	case invalidation.OpClear:
		err = c.clear(ctx)
	}
	obs.ObserveInvalidation(ev.Op, err)
	if err != nil {
		obs.IncKafkaConsumerError("redis_del")
		c.logger.ErrorContext(ctx, "kafka error",
			"kind", "redis_del", "topic", msg.Topic, "partition", msg.Partition, "url", ev.URL, "err", err)
		return err
	}
	return nil
}

func (c *Consumer) evict(ctx context.Context, url string) error {
	dropped := false
	if c.t.Grids != nil {
		dropped = c.t.Grids.Delete(url)
	}
	if c.t.Sources != nil {
		if err := c.t.Sources.Invalidate(ctx, url); err != nil {
			return fmt.Errorf("invalidate %s: %w", url, err)
		}
	}
	reloaded := 0
	if c.t.Layers != nil {
		reloaded = c.t.Layers.Reload(ctx, url)
	}
	c.logger.InfoContext(ctx, "invalidated source",
		"event", "invalidation", "op", invalidation.OpEvict, "url", url,
		"grid_dropped", dropped, "layers_reloaded", reloaded)
	return nil
}

func (c *Consumer) clear(ctx context.Context) error {
	grids, keys := 0, 0
	if c.t.Grids != nil {
		grids = c.t.Grids.Clear()
	}
	if c.t.Sources != nil {
		n, err := c.t.Sources.Clear(ctx)
		if err != nil {
			return fmt.Errorf("clear sources: %w", err)
		}
		keys = n
	}
	reloaded := 0
	if c.t.Layers != nil {
		reloaded = c.t.Layers.Reload(ctx, "")
	}
	c.logger.InfoContext(ctx, "cleared caches",
		"event", "invalidation", "op", invalidation.OpClear,
		"grids", grids, "keys", keys, "layers_reloaded", reloaded)
	return nil
}
