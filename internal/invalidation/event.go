// Package invalidation defines the cache invalidation events consumed from
// Kafka.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	OpEvict = "evict"
	OpClear = "clear"
)

// Event drops cached data for one source URL (evict) or for every source
// (clear). Seq, when set, orders events per URL; older ones are skipped.
type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	URL     string    `json:"url,omitempty"`
	Seq     uint64    `json:"seq,omitempty"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpEvict:
		if strings.TrimSpace(e.URL) == "" {
			return fmt.Errorf("url is required for evict")
		}
	case OpClear:
		if e.URL != "" {
			return fmt.Errorf("url must be empty for clear")
		}
	default:
		return fmt.Errorf("op must be evict|clear")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// DedupeKey is the key Seq is ordered under.
func (e Event) DedupeKey() string {
	if e.Op == OpClear {
		return "*"
	}
	return e.URL
}
