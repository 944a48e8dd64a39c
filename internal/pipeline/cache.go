package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/logger"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/resilience"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "rank:"

// RankingCache stores ranked lists by key. Implementations treat backend
// failures as misses.
type RankingCache interface {
	Get(ctx context.Context, key string) (ranker.RankedList, bool)
	Set(ctx context.Context, key string, list ranker.RankedList)
}

// CacheKey identifies a ranking by everything it depends on: the index
// contents, the encoded query and the depth. Query ids are not part of the
// key, so identical query texts share an entry.
func CacheKey(fingerprint string, q encoder.QueryVector, r int) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(r))
	h.Write(buf[:])
	for _, t := range q {
		binary.LittleEndian.PutUint64(buf[:], uint64(t))
		h.Write(buf[:])
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%s%s:%x", keyPrefix, fingerprint[:min(16, len(fingerprint))], sum[:16])
}

// RedisCache is a RankingCache backed by Redis. While Redis is failing the
// breaker is open and every lookup is a miss without a round trip.
type RedisCache struct {
	client  *pkgredis.Client
	ttl     time.Duration
	breaker *resilience.Breaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewRedisCache(client *pkgredis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:  client,
		ttl:     ttl,
		breaker: resilience.NewBreaker("ranking-cache", resilience.DefaultBreakerConfig()),
		logger:  logger.WithComponent("ranking-cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (ranker.RankedList, bool) {
	var data []byte
	err := c.breaker.Do(func() error {
		var err error
		data, err = c.client.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil || data == nil {
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var list ranker.RankedList
	if err := json.Unmarshal(data, &list); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return list, true
}

func (c *RedisCache) Set(ctx context.Context, key string, list ranker.RankedList) {
	data, err := json.Marshal(list)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Do(func() error {
		return c.client.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached list for key or computes, stores and
// returns it. Concurrent callers for the same key share one computation.
func (c *RedisCache) GetOrCompute(ctx context.Context, key string, compute func() (ranker.RankedList, error)) (ranker.RankedList, bool, error) {
	return getOrCompute(ctx, c, &c.group, key, compute)
}

// Invalidate drops every cached ranking.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating ranking cache: %w", err)
	}
	c.logger.Info("ranking cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *RedisCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func getOrCompute(
	ctx context.Context,
	cache RankingCache,
	group *singleflight.Group,
	key string,
	compute func() (ranker.RankedList, error),
) (ranker.RankedList, bool, error) {
	if list, ok := cache.Get(ctx, key); ok {
		return list, true, nil
	}
	val, err, _ := group.Do(key, func() (any, error) {
		if list, ok := cache.Get(ctx, key); ok {
			return list, nil
		}
		list, err := compute()
		if err != nil {
			return nil, err
		}
		cache.Set(ctx, key, list)
		return list, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(ranker.RankedList), false, nil
}

// MemoryCache is an in-process RankingCache with LRU eviction, used by the
// query worker when Redis is not configured.
type MemoryCache struct {
	entries *lru.Cache[string, ranker.RankedList]
	group   singleflight.Group
}

func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, ranker.RankedList](size)
	return &MemoryCache{entries: c}
}

func (c *MemoryCache) Get(_ context.Context, key string) (ranker.RankedList, bool) {
	return c.entries.Get(key)
}

func (c *MemoryCache) Set(_ context.Context, key string, list ranker.RankedList) {
	c.entries.Add(key, list)
}

func (c *MemoryCache) GetOrCompute(ctx context.Context, key string, compute func() (ranker.RankedList, error)) (ranker.RankedList, bool, error) {
	return getOrCompute(ctx, c, &c.group, key, compute)
}
