package xcache

import (
	"context"
	"errors"

	"github.com/eko/gocache/lib/v4/store"
)

// ErrCacheNotConfigured is the cause behind every miss of a disabled cache.
var ErrCacheNotConfigured = errors.New("cache not configured")

// disabled stands in when no cache mode is set, so lookups fall through to the source.
type disabled[T any] struct{}

func NewNoop[T any]() Cache[T] {
	return disabled[T]{}
}

func (disabled[T]) Get(context.Context, any) (T, error) {
	var zero T
	return zero, store.NotFoundWithCause(ErrCacheNotConfigured)
}

func (disabled[T]) Set(context.Context, any, T, ...Option) error { return nil }

func (disabled[T]) Delete(context.Context, any) error { return nil }

func (disabled[T]) Invalidate(context.Context, ...store.InvalidateOption) error { return nil }

func (disabled[T]) Clear(context.Context) error { return nil }

func (disabled[T]) GetType() string { return "noop" }
