package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecorder(t *testing.T) {
	reader := sdk.NewManualReader()
	provider := sdk.NewMeterProvider(sdk.WithReader(reader))

	r, err := NewRecorderWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	r.ExecutionFinished(ctx, "success", "native_transfer")
	r.ExecutionFinished(ctx, "pending", "native_transfer")
	r.AddressMismatch(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sums := map[string]int64{}

	for _, m := range rm.ScopeMetrics[0].Metrics {
		data, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok)

		for _, dp := range data.DataPoints {
			sums[m.Name] += dp.Value
		}
	}

	assert.Equal(t, int64(2), sums["agentpay.executions"])
	assert.Equal(t, int64(1), sums["agentpay.address_mismatch"])
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.ExecutionFinished(context.Background(), "success", "x")
		r.Denied(context.Background(), "x")
	})
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewProvider(Config{Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Shutdown(context.Background()))

	_, err = NewProvider(Config{Enabled: true, Exporter: ExporterConfig{Type: "carrier-pigeon"}})
	require.Error(t, err)
}
