package raster

import "sync"

// Cache keeps parsed grids by source URL for the life of the process. Entries
// are only dropped explicitly.
type Cache struct {
	mu    sync.RWMutex
	grids map[string]*Grid
}

func NewCache() *Cache {
	return &Cache{grids: make(map[string]*Grid)}
}

func (c *Cache) Get(url string) (*Grid, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.grids[url]
	return g, ok
}

func (c *Cache) Put(url string, g *Grid) {
	c.mu.Lock()
	c.grids[url] = g
	c.mu.Unlock()
}

// Delete reports whether url was cached.
func (c *Cache) Delete(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.grids[url]
	delete(c.grids, url)
	return ok
}

// Clear empties the cache and returns how many grids were dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.grids)
	c.grids = make(map[string]*Grid)
	return n
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.grids)
}
