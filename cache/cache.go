// Package cache provides a process-lifetime in-memory key/value cache with
// per-entry expiry, a periodic sweep, and an optional entry cap.
package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTTL is used by Set when no per-entry TTL is given.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often the janitor evicts expired entries.
	DefaultSweepInterval = 5 * time.Minute
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
	seq       uint64 // insertion order, for cap eviction
}

// Cache is a TTL cache safe for concurrent use. Expired entries are never
// returned: reads treat them as absent and drop them lazily; the janitor
// sweeps them periodically once started.
type Cache[V any] struct {
	defaultTTL    time.Duration
	sweepInterval time.Duration
	maxEntries    int
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.RWMutex
	entries map[string]entry[V]
	seq     uint64

	lifecycle sync.Mutex
	running   bool
	stopped   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// config collects options so they stay independent of the value type.
type config struct {
	defaultTTL    time.Duration
	sweepInterval time.Duration
	maxEntries    int
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Cache.
type Option func(*config)

// WithDefaultTTL sets the TTL used by Set.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.defaultTTL = ttl
	}
}

// WithSweepInterval sets how often the janitor runs.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *config) {
		c.sweepInterval = interval
	}
}

// WithMaxEntries caps the number of entries. When a Set pushes the cache
// over the cap, expired entries are evicted first, then the oldest by
// insertion order. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *config) {
		c.maxEntries = n
	}
}

// WithLogger sets the logger for sweep events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithNow sets the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New creates an empty cache. The janitor is not running until Start.
func New[V any](opts ...Option) *Cache[V] {
	cfg := config{
		defaultTTL:    DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Cache[V]{
		defaultTTL:    cfg.defaultTTL,
		sweepInterval: cfg.sweepInterval,
		maxEntries:    cfg.maxEntries,
		logger:        cfg.logger,
		now:           cfg.now,
		entries:       make(map[string]entry[V]),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Set stores a value under the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores a value with an absolute expiry of now+ttl. A later Set for
// the same key fully replaces the earlier one (last writer wins).
func (c *Cache[V]) SetTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: c.now().Add(ttl),
		seq:       c.seq,
	}
	c.enforceCapLocked()
}

// Get returns the value for key if present and unexpired. An expired entry
// is treated as a miss and removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !now.Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// replaced the entry with a fresh one.
		if cur, ok := c.entries[key]; ok && cur.seq == e.seq {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Remove deletes the entry for key unconditionally.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the number of stored entries, expired ones included until
// they are swept or read.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Start begins the periodic sweep. It is a no-op if already running.
func (c *Cache[V]) Start(ctx context.Context) {
	c.lifecycle.Lock()
	if c.running || c.stopped {
		c.lifecycle.Unlock()
		return
	}
	c.running = true
	c.lifecycle.Unlock()

	go c.run(ctx)
}

// Stop halts the periodic sweep and waits for it to exit.
func (c *Cache[V]) Stop() {
	c.lifecycle.Lock()
	if !c.running || c.stopped {
		c.lifecycle.Unlock()
		return
	}
	c.stopped = true
	c.lifecycle.Unlock()

	close(c.stopCh)
	<-c.doneCh
}

func (c *Cache[V]) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			removed := c.Sweep()
			if removed > 0 {
				c.logger.Debug("swept expired cache entries", "removed", removed)
			}
		}
	}
}

// Sweep evicts all expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// enforceCapLocked evicts entries while over the cap: expired first, then
// oldest by insertion order. Caller holds the write lock.
func (c *Cache[V]) enforceCapLocked() {
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return
	}

	now := c.now()
	for key, e := range c.entries {
		if len(c.entries) <= c.maxEntries {
			return
		}
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}

	for len(c.entries) > c.maxEntries {
		oldestKey := ""
		oldestSeq := uint64(0)
		for key, e := range c.entries {
			if oldestKey == "" || e.seq < oldestSeq {
				oldestKey = key
				oldestSeq = e.seq
			}
		}
		delete(c.entries, oldestKey)
	}
}
