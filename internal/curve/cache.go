package curve

import (
	"math"
	"sync"
	"time"
)

const (
	// Quantum is the amount-quantization step; near-duplicate automation
	// values share one cached curve.
	Quantum = 0.01

	DefaultCapacity      = 32
	DefaultMaxAge        = 2 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

type cacheKey struct {
	amount  int // quantized
	samples int
}

type cacheEntry struct {
	curve    []float32
	lastUsed time.Time
}

// CacheConfig tunes a Cache; zero values take the defaults.
type CacheConfig struct {
	Capacity      int
	MaxAge        time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Cache memoizes Shape results, bounded by entry count (LRU) and by age
// (periodic sweep, independent of capacity pressure).
type Cache struct {
	capacity int
	maxAge   time.Duration
	sweepInt time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
	stop    chan struct{}
}

// NewCache creates a stopped cache; call Start to run the age sweeper.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		capacity: cfg.Capacity,
		maxAge:   cfg.MaxAge,
		sweepInt: cfg.SweepInterval,
		now:      cfg.Now,
		entries:  make(map[cacheKey]*cacheEntry),
	}
}

// Get returns the cached curve for (amount, sampleCount), computing it on a
// miss. The amount is quantized to Quantum before keying. Entries past
// MaxAge count as misses and are recomputed.
func (c *Cache) Get(amount float64, sampleCount int) []float32 {
	key := cacheKey{
		amount:  int(math.Round(amount / Quantum)),
		samples: sampleCount,
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if now.Sub(e.lastUsed) <= c.maxAge {
			e.lastUsed = now
			return e.curve
		}
		delete(c.entries, key)
	}

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	e := &cacheEntry{
		curve:    Shape(float64(key.amount)*Quantum, sampleCount),
		lastUsed: now,
	}
	c.entries[key] = e
	return e.curve
}

// Len returns the number of cached curves.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start launches the periodic age sweeper. Idempotent.
func (c *Cache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	go c.run(c.stop)
}

// Stop halts the sweeper and drops all entries.
func (c *Cache) Stop() {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.entries = make(map[cacheKey]*cacheEntry)
	c.mu.Unlock()
}

func (c *Cache) run(stop chan struct{}) {
	ticker := time.NewTicker(c.sweepInt)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep drops every entry older than MaxAge.
func (c *Cache) sweep() {
	now := c.now()
	c.mu.Lock()
	for key, e := range c.entries {
		if now.Sub(e.lastUsed) > c.maxAge {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// evictOldestLocked removes the least-recently-used entry. Must be called
// with mu held.
func (c *Cache) evictOldestLocked() {
	var oldestKey cacheKey
	var oldest time.Time
	first := true
	for key, e := range c.entries {
		if first || e.lastUsed.Before(oldest) {
			oldestKey, oldest = key, e.lastUsed
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
