// Package response caches the most recent successful analysis per request
// fingerprint. Entries are written only after a 2xx gateway outcome; a hit
// served during an outage is re-tagged origin=cached by the caller.
package response

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

type Config struct {
	MaxEntries int
	TTL        time.Duration // zero keeps entries until evicted by capacity
}

func DefaultConfig() Config {
	return Config{MaxEntries: 256}
}

// MetricsSnapshot counts cache traffic.
type MetricsSnapshot struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Writes uint64 `json:"writes"`
}

// Cache is a bounded LRU over immutable records. Get returns the stored
// record itself; callers must not mutate it and use CachedCopy to re-tag.
type Cache struct {
	lru    *expirable.LRU[analysis.Fingerprint, *analysis.Record]
	hits   atomic.Uint64
	misses atomic.Uint64
	writes atomic.Uint64
}

func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	return &Cache{
		lru: expirable.NewLRU[analysis.Fingerprint, *analysis.Record](cfg.MaxEntries, nil, cfg.TTL),
	}
}

func (c *Cache) Get(fp analysis.Fingerprint) (*analysis.Record, bool) {
	rec, ok := c.lru.Get(fp)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return rec, ok
}

// Put stores a record under its fingerprint. Only successful remote results
// belong here; fallback records must never shadow a future real one.
func (c *Cache) Put(fp analysis.Fingerprint, rec *analysis.Record) {
	if rec == nil || rec.Origin == analysis.OriginFallback {
		return
	}
	c.writes.Add(1)
	c.lru.Add(fp, rec)
}

func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Writes: c.writes.Load(),
	}
}
