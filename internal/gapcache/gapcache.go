// Package gapcache holds orphan blocks whose predecessor (or, for a
// receive, its paired send) has not yet arrived. When a block whose hash is
// an orphan's key shows up, the message processor looks up and re-enters
// the waiting orphan.
//
// Grounded on the original gap_cache: a bounded container keyed by the
// missing hash, evicting the oldest arrival first, backed here by
// internal/container's insertion-ordered map instead of a boost
// multi_index_container.
package gapcache

import (
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/internal/container"
	"github.com/raiproto/node/ledgerid"
)

// DefaultBound is the default maximum number of orphan entries retained.
const DefaultBound = 256

type entry struct {
	arrival time.Time
	block   block.Block
}

// Cache is a bounded, arrival-ordered store of orphan blocks.
type Cache struct {
	log   log.Logger
	bound int

	mu      sync.Mutex
	entries *container.OrderedMap[ledgerid.BlockHash, entry]
	size    prometheus.Gauge
	evicted prometheus.Counter
}

// New returns an empty Cache that holds at most bound orphans.
func New(bound int, logger log.Logger, reg prometheus.Registerer) *Cache {
	if bound <= 0 {
		bound = DefaultBound
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	c := &Cache{
		log:     logger,
		bound:   bound,
		entries: container.NewOrderedMap[ledgerid.BlockHash, entry](),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapcache_size",
			Help: "Number of orphan blocks currently awaiting a predecessor.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapcache_evicted_total",
			Help: "Orphan blocks evicted for exceeding the cache bound.",
		}),
	}
	if reg != nil {
		_ = reg.Register(c.size)
		_ = reg.Register(c.evicted)
	}
	return c
}

// Add inserts blk, keyed by the hash of the predecessor (or source) it is
// waiting on. If the cache is already at its bound, the oldest-arrival
// entry is evicted first. Per the design notes, Add should only be called
// for a genuine gap; a newer orphan whose block is already in the ledger is
// not added.
func (c *Cache) Add(blk block.Block, missing ledgerid.BlockHash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries.Get(missing); exists {
		return
	}
	if c.entries.Len() >= c.bound {
		oldestKey, _, ok := c.entries.DeleteOldest()
		if ok {
			c.evicted.Inc()
			c.log.Debug("gap cache evicted oldest entry", "hash", oldestKey.String())
		}
	}
	c.entries.Put(missing, entry{arrival: time.Now(), block: blk})
	c.size.Set(float64(c.entries.Len()))
}

// Get removes and returns the orphan waiting on hash, if any.
func (c *Cache) Get(hash ledgerid.BlockHash) (block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(hash)
	if !ok {
		return nil, false
	}
	c.entries.Delete(hash)
	c.size.Set(float64(c.entries.Len()))
	return e.block, true
}

// Len returns the number of orphans currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
