package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/cache/keys"
)

// Store is the subset of the Redis client the payload cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

// Cached serves payloads from a shared store before falling through to the
// wrapped fetcher. Store failures never fail a fetch.
type Cached struct {
	inner     Fetcher
	store     Store
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

func NewCached(inner Fetcher, store Store, ttl, opTimeout time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &Cached{inner: inner, store: store, ttl: ttl, opTimeout: opTimeout, logger: logger}
}

func (c *Cached) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	key := keys.SourceKey(rawURL)

	gctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	b, ok, err := c.store.Get(gctx, key)
	cancel()
	if err != nil {
		c.logger.WarnContext(ctx, "payload cache read failed", "url", rawURL, "err", err)
	} else if ok {
		return b, nil
	}

	b, err = c.inner.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opTimeout)
	if err := c.store.Set(sctx, key, b, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "payload cache write failed", "url", rawURL, "err", err)
	}
	cancel()
	return b, nil
}

// Invalidate drops the cached payload for rawURL.
func (c *Cached) Invalidate(ctx context.Context, rawURL string) error {
	return c.store.Del(ctx, keys.SourceKey(rawURL))
}

// Clear drops every cached payload and reports how many were removed.
func (c *Cached) Clear(ctx context.Context) (int, error) {
	return c.store.DelPrefix(ctx, keys.SourcePrefix)
}
