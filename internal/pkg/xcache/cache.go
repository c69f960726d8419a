package xcache

import (
	"context"
	"fmt"
	"time"

	cachelib "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	gocache_store "github.com/eko/gocache/store/go_cache/v4"
	gocache "github.com/patrickmn/go-cache"
	redis "github.com/redis/go-redis/v9"

	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/pkg/xredis"
	redis_store "github.com/looplj/agentpay/internal/pkg/xcache/redis"
)

// Cache is the gocache interface: Get, Set, Delete, Invalidate, Clear and GetType.
// Values must be safe to share; never put key material in a cache.
type Cache[T any] = cachelib.CacheInterface[T]

type SetterCache[T any] = cachelib.SetterCacheInterface[T]

// NewMemory creates an in-memory cache backed by patrickmn/go-cache.
func NewMemory[T any](client *gocache.Cache, options ...Option) SetterCache[T] {
	return cachelib.New[T](gocache_store.NewGoCache(client, options...))
}

func NewMemoryWithOptions[T any](defaultExpiration, cleanupInterval time.Duration, options ...Option) SetterCache[T] {
	return NewMemory[T](gocache.New(defaultExpiration, cleanupInterval), options...)
}

// NewRedis creates a JSON-encoded redis cache. Keys are namespaced with prefix.
func NewRedis[T any](client *redis.Client, prefix string, options ...Option) SetterCache[T] {
	return cachelib.New[T](redis_store.NewRedisStore[T](client, prefix, options...))
}

func NewTwoLevel[T any](memory, redis SetterCache[T]) Cache[T] {
	return cachelib.NewChain[T](memory, redis)
}

// NewFromConfig builds a typed cache.
//   - memory: in-memory only
//   - redis: redis only
//   - two-level: memory in front of redis
//
// An empty mode yields a noop cache.
func NewFromConfig[T any](cfg Config, prefix string) (Cache[T], error) {
	if cfg.Mode == "" {
		return NewNoop[T](), nil
	}

	memExpiration := defaultIfZero(cfg.Memory.Expiration, 5*time.Minute)
	mem := NewMemory[T](
		gocache.New(memExpiration, defaultIfZero(cfg.Memory.CleanupInterval, 10*time.Minute)),
		store.WithExpiration(memExpiration),
	)

	var rds SetterCache[T]

	if cfg.Mode != ModeMemory {
		if !cfg.Redis.Enabled() {
			return nil, fmt.Errorf("xcache: mode %q requires redis config", cfg.Mode)
		}

		client, err := xredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("xcache: %w", err)
		}

		rds = NewRedis[T](client, prefix, store.WithExpiration(defaultIfZero(cfg.RedisExpiration, 30*time.Minute)))
	}

	switch cfg.Mode {
	case ModeTwoLevel:
		log.Info(context.Background(), "using two-level cache", log.String("prefix", prefix))
		return NewTwoLevel[T](mem, rds), nil
	case ModeRedis:
		log.Info(context.Background(), "using redis cache", log.String("prefix", prefix))
		return rds, nil
	case ModeMemory:
		log.Info(context.Background(), "using memory cache", log.String("prefix", prefix))
		return mem, nil
	default:
		return nil, fmt.Errorf("xcache: unknown mode %q", cfg.Mode)
	}
}

func defaultIfZero(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}

	return d
}
