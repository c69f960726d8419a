package xcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/agentpay/internal/pkg/xredis"
)

func TestNewMemory(t *testing.T) {
	cache := NewMemoryWithOptions[uint8](5*time.Minute, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "1:0xtoken", 18))

	value, err := cache.Get(ctx, "1:0xtoken")
	require.NoError(t, err)
	assert.Equal(t, uint8(18), value)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	defer client.Close()

	cache := NewRedis[uint8](client, "decimals:")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", 6))
	assert.True(t, mr.Exists("decimals:k"))

	value, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), value)
}

func TestNewTwoLevel_FallsBackToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	defer client.Close()

	rds := NewRedis[string](client, "p:")
	mem := NewMemoryWithOptions[string](time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, rds.Set(ctx, "k", "from-redis"))

	value, err := NewTwoLevel[string](mem, rds).Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "from-redis", value)
}

func TestNewFromConfig(t *testing.T) {
	t.Run("empty mode is noop", func(t *testing.T) {
		cache, err := NewFromConfig[int](Config{}, "x:")
		require.NoError(t, err)
		assert.Equal(t, "noop", cache.GetType())
	})

	t.Run("memory", func(t *testing.T) {
		cache, err := NewFromConfig[int](Config{Mode: ModeMemory}, "x:")
		require.NoError(t, err)
		require.NoError(t, cache.Set(context.Background(), "a", 1))
	})

	t.Run("redis without address", func(t *testing.T) {
		_, err := NewFromConfig[int](Config{Mode: ModeRedis}, "x:")
		require.Error(t, err)
	})

	t.Run("two-level", func(t *testing.T) {
		mr := miniredis.RunT(t)

		cache, err := NewFromConfig[int](Config{Mode: ModeTwoLevel, Redis: xredis.Config{Addr: mr.Addr()}}, "x:")
		require.NoError(t, err)

		ctx := context.Background()
		require.NoError(t, cache.Set(ctx, "a", 7))
		assert.True(t, mr.Exists("x:a"))
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := NewFromConfig[int](Config{Mode: "disk"}, "x:")
		require.Error(t, err)
	})
}
