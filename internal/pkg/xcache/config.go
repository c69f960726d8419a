package xcache

import (
	"time"

	"github.com/looplj/agentpay/internal/pkg/xredis"
)

const (
	ModeMemory   = "memory"
	ModeRedis    = "redis"
	ModeTwoLevel = "two-level"
)

type Config struct {
	Mode            string        `conf:"mode" yaml:"mode" json:"mode"`
	Memory          MemoryConfig  `conf:"memory" yaml:"memory" json:"memory"`
	Redis           xredis.Config `conf:"redis" yaml:"redis" json:"redis"`
	RedisExpiration time.Duration `conf:"redis_expiration" yaml:"redis_expiration" json:"redis_expiration"`
}

type MemoryConfig struct {
	Expiration      time.Duration `conf:"expiration" yaml:"expiration" json:"expiration"`
	CleanupInterval time.Duration `conf:"cleanup_interval" yaml:"cleanup_interval" json:"cleanup_interval"`
}
