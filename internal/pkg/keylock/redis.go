package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/looplj/agentpay/internal/log"
)

const (
	defaultTTL           = 2 * time.Minute
	defaultRetryInterval = 50 * time.Millisecond
	defaultPrefix        = "agentpay:lock:"
)

// releaseScript deletes the key only if this holder still owns the lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the lease expiry out only if this holder still owns it.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisOptions struct {
	TTL           time.Duration
	RetryInterval time.Duration
	Prefix        string
}

type redisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	prefix        string
}

// NewRedis returns a Locker backed by SET NX PX leases. A held lease is renewed every
// TTL/3 until unlock, so the TTL only bounds how long a crashed holder blocks the key.
func NewRedis(client *redis.Client, opts RedisOptions) Locker {
	l := &redisLocker{
		client:        client,
		ttl:           opts.TTL,
		retryInterval: opts.RetryInterval,
		prefix:        opts.Prefix,
	}

	if l.ttl <= 0 {
		l.ttl = defaultTTL
	}

	if l.retryInterval <= 0 {
		l.retryInterval = defaultRetryInterval
	}

	if l.prefix == "" {
		l.prefix = defaultPrefix
	}

	return l
}

func (l *redisLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("keylock: acquire %s: %w", key, err)
		}

		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	watchCtx, stopWatch := context.WithCancel(context.WithoutCancel(ctx))
	watchDone := make(chan struct{})

	go l.keepAlive(watchCtx, key, redisKey, token, watchDone)

	var once sync.Once

	return func() {
		once.Do(func() {
			stopWatch()
			<-watchDone

			// Release must not inherit a cancelled request context.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				log.Warn(releaseCtx, "failed to release redis lock", log.String("key", key), log.Cause(err))
			}
		})
	}, nil
}

func (l *redisLocker) keepAlive(ctx context.Context, key, redisKey, token string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		extended, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			log.Warn(ctx, "failed to extend redis lock", log.String("key", key), log.Cause(err))

			continue
		}

		if extended == 0 {
			log.Error(ctx, "redis lock lease lost while held", log.String("key", key))

			return
		}
	}
}
