package xcontext

import (
	"context"
	"time"
)

// DetachWithTimeout keeps the values of ctx but not its cancellation or deadline,
// and bounds the result by timeout instead.
func DetachWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
