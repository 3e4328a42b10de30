package invalidation

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedupe remembers the last applied sequence per key in a bounded LRU.
type Dedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func NewDedupe(size int) *Dedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &Dedupe{lru: c}
}

// ShouldApply reports whether seq is newer than the last one seen for key and
// records it. A zero seq is always applied.
func (d *Dedupe) ShouldApply(key string, seq uint64) bool {
	if seq == 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && seq <= last {
		return false
	}
	d.lru.Add(key, seq)
	return true
}
