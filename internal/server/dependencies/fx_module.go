package dependencies

import (
	"context"

	"github.com/zhenzou/executors"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/pkg/keylock"
)

var Module = fx.Module("dependencies",
	fx.Provide(log.New),
	fx.Provide(NewDB),
	fx.Provide(keylock.New),
	fx.Provide(NewChainClient),
	fx.Provide(NewSessionManager),
	fx.Provide(NewMetricsRecorder),
	fx.Provide(NewExecutors),
	fx.Invoke(func(lc fx.Lifecycle, executor executors.ScheduledExecutor) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return executor.Shutdown(ctx)
			},
		})
	}),
)
