package popup

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/observability"
)

const cacheLabel = "popup"

// The feature pointer pins the feature while it is cached, so a key can not
// be reused by a later collection.
type cacheKey struct {
	layer   string
	feature *geojson.Feature
}

// Cache memoises popup HTML per layer and feature.
type Cache struct {
	cfg Config
	lru *lru.Cache[cacheKey, string]
}

func NewCache(size int, cfg Config) (*Cache, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("popup cache: %w", err)
	}
	return &Cache{cfg: cfg, lru: c}, nil
}

func (c *Cache) Config() Config { return c.cfg }

// Content returns the popup HTML for f, building it on a miss.
func (c *Cache) Content(layerID string, f *geojson.Feature) string {
	if f == nil {
		return BuildContent(nil, c.cfg)
	}
	k := cacheKey{layer: layerID, feature: f}
	if s, ok := c.lru.Get(k); ok {
		observability.IncCacheHit(cacheLabel)
		return s
	}
	observability.IncCacheMiss(cacheLabel)
	s := BuildContent(f.Properties, c.cfg)
	c.lru.Add(k, s)
	return s
}

// Forget drops every entry of one layer and reports how many went.
func (c *Cache) Forget(layerID string) int {
	n := 0
	for _, k := range c.lru.Keys() {
		if k.layer == layerID && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

func (c *Cache) Len() int { return c.lru.Len() }
