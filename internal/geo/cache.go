package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"gasroute/internal/metrics"
	"gasroute/internal/model"
)

// Cache stores distance results keyed by coordinate pair. It is injected into
// CachingProvider rather than held as package state so runs stay reproducible
// in tests.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool)
	Put(ctx context.Context, key string, r Result)
}

// PairKey is the canonical cache key for an ordered coordinate pair.
// Coordinates are truncated to ~11m precision so nearby lookups share entries.
func PairKey(a, b model.GeoPoint) string {
	return fmt.Sprintf("geo:%.4f,%.4f|%.4f,%.4f", a.Lat, a.Lng, b.Lat, b.Lng)
}

// MemoryCache is a TTL map cache for single-process deployments and tests.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
}

type memEntry struct {
	r   Result
	exp time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCache{ttl: ttl, entries: map[string]memEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if time.Now().After(e.exp) {
		delete(c.entries, key)
		return Result{}, false
	}
	return e.r, true
}

func (c *MemoryCache) Put(_ context.Context, key string, r Result) {
	c.mu.Lock()
	c.entries[key] = memEntry{r: r, exp: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// RedisCache shares distance results across instances. Failures are treated
// as cache misses; the caller still has its provider.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("geo: redis cache: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: redis.NewClient(opt), ttl: ttl}, nil
}

func NewRedisCacheFromClient(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type redisEntry struct {
	Km     float64 `json:"km"`
	DurSec float64 `json:"durSec"`
}

func (c *RedisCache) Get(ctx context.Context, key string) (Result, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return Result{}, false
	}
	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return Result{}, false
	}
	return Result{Km: e.Km, Dur: time.Duration(e.DurSec * float64(time.Second))}, true
}

func (c *RedisCache) Put(ctx context.Context, key string, r Result) {
	data, _ := json.Marshal(redisEntry{Km: r.Km, DurSec: r.Dur.Seconds()})
	_ = c.rdb.Set(ctx, key, data, c.ttl).Err()
}

// CachingProvider decorates a Provider with a Cache.
type CachingProvider struct {
	Next  Provider
	Cache Cache
}

func NewCachingProvider(next Provider, cache Cache) *CachingProvider {
	return &CachingProvider{Next: next, Cache: cache}
}

func (p *CachingProvider) DistanceDuration(ctx context.Context, a, b model.GeoPoint) (Result, error) {
	key := PairKey(a, b)
	if r, ok := p.Cache.Get(ctx, key); ok {
		metrics.GeoCacheLookups.WithLabelValues("hit").Inc()
		return r, nil
	}
	metrics.GeoCacheLookups.WithLabelValues("miss").Inc()
	r, err := p.Next.DistanceDuration(ctx, a, b)
	if err != nil {
		return Result{}, err
	}
	p.Cache.Put(ctx, key, r)
	return r, nil
}
