package progress

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "engagement_status_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "engagement_status_cache_miss_total"})
)

// StatusCache holds computed campaign statuses. A failing cache behaves like
// an empty one.
type StatusCache interface {
	Get(ctx context.Context, key string) (*CampaignStatus, bool)
	Set(ctx context.Context, key string, v *CampaignStatus)
	Invalidate(ctx context.Context, prefix string)
}

type redisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) StatusCache {
	return &redisCache{rdb: rdb, ttl: ttl}
}

func (c *redisCache) Get(ctx context.Context, key string) (*CampaignStatus, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("status cache read failed", zap.String("key", key), zap.Error(err))
		}
		cacheMiss.Inc()
		return nil, false
	}

	var v CampaignStatus
	if err := json.Unmarshal(raw, &v); err != nil {
		cacheMiss.Inc()
		return nil, false
	}
	cacheHits.Inc()
	return &v, true
}

func (c *redisCache) Set(ctx context.Context, key string, v *CampaignStatus) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		zap.L().Warn("status cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate deletes every key under prefix. Only a handful of dated keys
// exist per campaign.
func (c *redisCache) Invalidate(ctx context.Context, prefix string) {
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		zap.L().Warn("status cache scan failed", zap.String("prefix", prefix), zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		zap.L().Warn("status cache invalidate failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

type entry struct {
	v       *CampaignStatus
	expires time.Time
}

// memoryCache is the in-process StatusCache used when Redis is not configured.
type memoryCache struct {
	mu    sync.RWMutex
	items map[string]entry
	ttl   time.Duration
}

func NewMemoryCache(ttl time.Duration) StatusCache {
	return &memoryCache{items: make(map[string]entry), ttl: ttl}
}

func (c *memoryCache) Get(_ context.Context, key string) (*CampaignStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || (c.ttl > 0 && time.Now().After(e.expires)) {
		cacheMiss.Inc()
		return nil, false
	}
	cacheHits.Inc()
	return e.v, true
}

func (c *memoryCache) Set(_ context.Context, key string, v *CampaignStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{v: v, expires: time.Now().Add(c.ttl)}
}

func (c *memoryCache) Invalidate(_ context.Context, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
}
