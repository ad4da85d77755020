// Package cache provides the in-memory LRU+TTL store for loaded calendars.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/metrics"
)

const (
	defaultTTL             = time.Hour
	defaultMaxSize         = 100
	defaultCleanupInterval = 5 * time.Minute
)

// Config controls cache capacity and expiry.
//   - TTL: lifetime applied when Set receives a zero expiry (default 1h).
//   - MaxSize: maximum number of entries (default 100).
//   - CleanupInterval: period of the background expiry sweep (default 5m).
type Config struct {
	TTL             time.Duration
	MaxSize         int
	CleanupInterval time.Duration
}

// Partial carries the fields to change in Configure; nil means unchanged.
type Partial struct {
	TTL             *time.Duration
	MaxSize         *int
	CleanupInterval *time.Duration
}

// Entry is a cached calendar plus its last access time.
type Entry struct {
	calendar.CachedCalendar
	LastAccessed time.Time

	seq uint64
}

// GetOptions tunes Get.
type GetOptions struct {
	IncludeExpired bool
}

// Stats summarizes cache usage since the last Clear.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	SizeBytes int     `json:"size_bytes"`
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache is an LRU+TTL calendar store. It is safe for concurrent use. A
// background goroutine sweeps expired entries until Destroy is called.
type Cache struct {
	mu        sync.Mutex
	cfg       Config
	entries   map[string]*Entry
	hits      int64
	misses    int64
	evictions int64
	seq       uint64

	now    func() time.Time
	logger *zap.Logger

	// sweepMu serializes sweeper restarts against Destroy.
	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
	destroyed bool
}

// New creates a Cache and starts its expiry sweep.
func New(cfg Config, opts ...Option) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	metrics.Init()
	c.startSweeper()
	return c
}

// Set stores a calendar. An existing key is updated in place; a new key at
// capacity first evicts the least recently accessed entry. A zero expiresAt
// applies the configured TTL.
func (c *Cache) Set(key string, cal *calendar.Calendar, source calendar.ExternalSource, expiresAt time.Time, etag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(c.cfg.TTL)
	}
	c.seq++
	entry := &Entry{
		CachedCalendar: calendar.CachedCalendar{
			Calendar:  cal,
			CachedAt:  now,
			ExpiresAt: expiresAt,
			Source:    source,
			ETag:      etag,
		},
		LastAccessed: now,
		seq:          c.seq,
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxSize {
		c.evictLocked(len(c.entries) - c.cfg.MaxSize + 1)
	}
	c.entries[key] = entry
	metrics.SetCacheEntries(len(c.entries))
}

// Get returns the entry for key. Expired entries count as misses unless
// opts.IncludeExpired is set. A hit refreshes the entry's access time.
func (c *Cache) Get(key string, opts GetOptions) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	now := c.now()
	if !ok || (!opts.IncludeExpired && isExpired(entry, now)) {
		c.misses++
		metrics.ObserveCacheLookup(false)
		return Entry{}, false
	}
	c.hits++
	c.seq++
	entry.LastAccessed = now
	entry.seq = c.seq
	metrics.ObserveCacheLookup(true)
	return *entry, true
}

// Peek returns the entry for key, expired or not, without touching access
// time or stats.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Has reports a present, unexpired entry without touching access time or stats.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return ok && !isExpired(entry, c.now())
}

// IsExpired reports whether key is missing or past its expiry.
func (c *Cache) IsExpired(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return !ok || isExpired(entry, c.now())
}

// HasValidETag reports an unexpired entry carrying an ETag.
func (c *Cache) HasValidETag(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return ok && entry.ETag != "" && !isExpired(entry, c.now())
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	metrics.SetCacheEntries(len(c.entries))
	return ok
}

// Clear removes every entry and resets the statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

// Size returns the number of entries, expired ones included.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CleanupExpired drops every expired entry and returns how many were removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if isExpired(entry, now) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.SetCacheEntries(len(c.entries))
	}
	return removed
}

// Configure applies the non-nil fields of p. Lowering MaxSize evicts
// immediately; changing CleanupInterval restarts the sweep.
func (c *Cache) Configure(p Partial) {
	c.mu.Lock()
	restart := false
	if p.TTL != nil && *p.TTL > 0 {
		c.cfg.TTL = *p.TTL
	}
	if p.MaxSize != nil && *p.MaxSize > 0 {
		c.cfg.MaxSize = *p.MaxSize
		if over := len(c.entries) - c.cfg.MaxSize; over > 0 {
			c.evictLocked(over)
			metrics.SetCacheEntries(len(c.entries))
		}
	}
	if p.CleanupInterval != nil && *p.CleanupInterval > 0 && *p.CleanupInterval != c.cfg.CleanupInterval {
		c.cfg.CleanupInterval = *p.CleanupInterval
		restart = !c.destroyed
	}
	c.mu.Unlock()

	if restart {
		c.sweepMu.Lock()
		c.stopSweeper()
		c.startSweeper()
		c.sweepMu.Unlock()
	}
}

// Config returns the active configuration.
func (c *Cache) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Stats returns counters and an approximate payload size.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		Size:      len(c.entries),
		MaxSize:   c.cfg.MaxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	for _, entry := range c.entries {
		stats.SizeBytes += entry.Calendar.SizeBytes()
	}
	return stats
}

// Destroy stops the sweep and clears all state. The cache stays usable but
// no longer expires entries in the background.
func (c *Cache) Destroy() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	c.stopSweeper()
	c.mu.Lock()
	c.destroyed = true
	c.clearLocked()
	c.mu.Unlock()
}

func (c *Cache) clearLocked() {
	c.entries = make(map[string]*Entry)
	c.hits = 0
	c.misses = 0
	c.evictions = 0
	metrics.SetCacheEntries(0)
}

// evictLocked removes the n least recently accessed entries.
func (c *Cache) evictLocked(n int) {
	for i := 0; i < n && len(c.entries) > 0; i++ {
		var (
			victimKey string
			victim    *Entry
		)
		for key, entry := range c.entries {
			if victim == nil || olderThan(entry, victim) {
				victimKey, victim = key, entry
			}
		}
		delete(c.entries, victimKey)
		c.evictions++
		metrics.ObserveCacheEviction(1)
		c.logger.Debug("evicted calendar cache entry", zap.String("key", victimKey))
	}
}

func olderThan(a, b *Entry) bool {
	if !a.LastAccessed.Equal(b.LastAccessed) {
		return a.LastAccessed.Before(b.LastAccessed)
	}
	return a.seq < b.seq
}

func isExpired(entry *Entry, now time.Time) bool {
	return now.After(entry.ExpiresAt)
}

func (c *Cache) startSweeper() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	interval := c.cfg.CleanupInterval
	stop := make(chan struct{})
	done := make(chan struct{})
	c.sweepStop = stop
	c.sweepDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := c.CleanupExpired(); removed > 0 {
					c.logger.Debug("swept expired calendar cache entries", zap.Int("removed", removed))
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Cache) stopSweeper() {
	c.mu.Lock()
	stop, done := c.sweepStop, c.sweepDone
	c.sweepStop, c.sweepDone = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
