package dataprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// CacheConfig bounds the caching layer. Each data kind carries its own
// TTL: intraday bars go stale in minutes, daily bars in hours, and news or
// calendar events can live close to a day.
type CacheConfig struct {
	IntradayTTL time.Duration
	DailyTTL    time.Duration
	EventTTL    time.Duration
	MaxEntries  int
}

// DefaultCacheConfig returns sensible cache bounds
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		IntradayTTL: 5 * time.Minute,
		DailyTTL:    6 * time.Hour,
		EventTTL:    12 * time.Hour,
		MaxEntries:  256,
	}
}

type cacheEntry struct {
	value    interface{}
	expires  time.Time
	lastUsed time.Time
}

type inflightCall struct {
	done  chan struct{}
	value interface{}
	err   error
}

// CachingProvider wraps a Provider with a bounded TTL cache keyed by data
// kind and request parameters, and collapses concurrent identical fetches
// into a single upstream call.
type CachingProvider struct {
	mu       sync.Mutex
	logger   *zap.Logger
	config   *CacheConfig
	upstream Provider
	entries  map[string]*cacheEntry
	inflight map[string]*inflightCall

	hits   uint64
	misses uint64
}

// NewCachingProvider wraps upstream with caching
func NewCachingProvider(logger *zap.Logger, config *CacheConfig, upstream Provider) *CachingProvider {
	if config == nil {
		config = DefaultCacheConfig()
	}
	return &CachingProvider{
		logger:   logger,
		config:   config,
		upstream: upstream,
		entries:  make(map[string]*cacheEntry),
		inflight: make(map[string]*inflightCall),
	}
}

// getOrFetch serves a key from the cache, joins an in-flight fetch, or
// becomes the leader for one upstream call. Only the leader counts as a
// miss; joiners and cache reads count as hits.
func (c *CachingProvider) getOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		if time.Now().Before(entry.expires) {
			entry.lastUsed = time.Now()
			c.hits++
			value := entry.value
			c.mu.Unlock()
			return value, nil
		}
		delete(c.entries, key)
	}

	if call, ok := c.inflight[key]; ok {
		c.hits++
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.value, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.misses++
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	value, err := fetch()
	call.value = value
	call.err = err
	close(call.done)

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.store(key, value, ttl)
	}
	c.mu.Unlock()

	return value, err
}

// store inserts an entry, evicting the least recently used one when full.
// Caller holds the lock.
func (c *CachingProvider) store(key string, value interface{}, ttl time.Duration) {
	if len(c.entries) >= c.config.MaxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.lastUsed.Before(oldest) {
				oldestKey = k
				oldest = e.lastUsed
			}
		}
		delete(c.entries, oldestKey)
	}
	now := time.Now()
	c.entries[key] = &cacheEntry{value: value, expires: now.Add(ttl), lastUsed: now}
}

// GetOHLCV returns cached bars when fresh, otherwise fetches upstream.
// Intraday and daily series age out on their own clocks.
func (c *CachingProvider) GetOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	key := fmt.Sprintf("ohlcv_%s_%s_%d_%d", symbol, timeframe, start.Unix(), end.Unix())
	ttl := c.config.DailyTTL
	if timeframe.Intraday() {
		ttl = c.config.IntradayTTL
	}

	value, err := c.getOrFetch(ctx, key, ttl, func() (interface{}, error) {
		return c.upstream.GetOHLCV(ctx, symbol, timeframe, start, end)
	})
	if err != nil {
		return nil, err
	}
	bars, _ := value.([]types.OHLCV)
	return bars, nil
}

// GetSentiment returns cached news events for the range
func (c *CachingProvider) GetSentiment(ctx context.Context, symbol string, start, end time.Time) ([]types.SentimentEvent, error) {
	key := fmt.Sprintf("sentiment_%s_%d_%d", symbol, start.Unix(), end.Unix())

	value, err := c.getOrFetch(ctx, key, c.config.EventTTL, func() (interface{}, error) {
		return c.upstream.GetSentiment(ctx, symbol, start, end)
	})
	if err != nil {
		return nil, err
	}
	events, _ := value.([]types.SentimentEvent)
	return events, nil
}

// GetEconomicEvents returns cached calendar entries for the range
func (c *CachingProvider) GetEconomicEvents(ctx context.Context, currency string, start, end time.Time) ([]types.EconomicEvent, error) {
	key := fmt.Sprintf("calendar_%s_%d_%d", currency, start.Unix(), end.Unix())

	value, err := c.getOrFetch(ctx, key, c.config.EventTTL, func() (interface{}, error) {
		return c.upstream.GetEconomicEvents(ctx, currency, start, end)
	})
	if err != nil {
		return nil, err
	}
	events, _ := value.([]types.EconomicEvent)
	return events, nil
}

// GetMarketContext returns the cached market state for a point in time.
// Context is derived from daily bars, so it ages on the daily clock.
func (c *CachingProvider) GetMarketContext(ctx context.Context, symbol string, at time.Time) (*types.MarketContext, error) {
	key := fmt.Sprintf("context_%s_%d", symbol, at.Unix())

	value, err := c.getOrFetch(ctx, key, c.config.DailyTTL, func() (interface{}, error) {
		return c.upstream.GetMarketContext(ctx, symbol, at)
	})
	if err != nil {
		return nil, err
	}
	mc, _ := value.(*types.MarketContext)
	return mc, nil
}

// GetAvailableSymbols returns the upstream symbol list, cached on the
// daily clock
func (c *CachingProvider) GetAvailableSymbols(ctx context.Context) ([]string, error) {
	value, err := c.getOrFetch(ctx, "symbols", c.config.DailyTTL, func() (interface{}, error) {
		return c.upstream.GetAvailableSymbols(ctx)
	})
	if err != nil {
		return nil, err
	}
	symbols, _ := value.([]string)
	return symbols, nil
}

// Stats returns cache hit/miss counters and current size. Misses count
// upstream fetches; callers served by a shared in-flight fetch are hits.
func (c *CachingProvider) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

// Clear empties the cache
func (c *CachingProvider) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}
