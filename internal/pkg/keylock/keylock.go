// Package keylock serializes work per key (one in-flight holder per key), either inside
// one process or across processes through redis leases.
package keylock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplj/agentpay/internal/pkg/xredis"
)

const (
	ModeMemory = "memory"
	ModeRedis  = "redis"
)

var ErrLockTimeout = errors.New("keylock: timed out waiting for lock")

type Config struct {
	Mode string `conf:"mode" yaml:"mode" json:"mode"`

	// TTL bounds how long a redis lease survives a crashed holder.
	TTL time.Duration `conf:"ttl" yaml:"ttl" json:"ttl"`

	// RetryInterval is the polling interval while a redis lease is held elsewhere.
	RetryInterval time.Duration `conf:"retry_interval" yaml:"retry_interval" json:"retry_interval"`

	// Prefix namespaces redis keys.
	Prefix string `conf:"prefix" yaml:"prefix" json:"prefix"`

	Redis xredis.Config `conf:"redis" yaml:"redis" json:"redis"`
}

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker hands out exclusive per-key locks. Acquire blocks until the lock is held
// or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}

// New builds a Locker from cfg; an empty mode means memory.
func New(cfg Config) (Locker, error) {
	switch cfg.Mode {
	case "", ModeMemory:
		return NewMemory(), nil
	case ModeRedis:
		client, err := xredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("keylock: %w", err)
		}

		return NewRedis(client, RedisOptions{
			TTL:           cfg.TTL,
			RetryInterval: cfg.RetryInterval,
			Prefix:        cfg.Prefix,
		}), nil
	default:
		return nil, fmt.Errorf("keylock: unknown mode %q", cfg.Mode)
	}
}
