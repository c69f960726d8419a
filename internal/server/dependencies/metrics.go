package dependencies

import (
	"context"

	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/metrics"
)

// NewMetricsRecorder installs the configured meter provider, flushing it on stop, and
// registers the service counters on it.
func NewMetricsRecorder(lc fx.Lifecycle, cfg metrics.Config) (*metrics.Recorder, error) {
	provider, err := metrics.NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	if provider != nil {
		if err := metrics.SetupMetrics(provider); err != nil {
			return nil, err
		}

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	return metrics.NewRecorder()
}
