package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// NewProvider builds the meter provider. A disabled config yields nil and instruments
// stay on the global no-op provider.
func NewProvider(cfg Config) (*sdk.MeterProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := newExporter(cfg.Exporter)
	if err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	name := cfg.ServiceName
	if name == "" {
		name = "agentpay"
	}

	return sdk.NewMeterProvider(
		sdk.WithReader(sdk.NewPeriodicReader(exporter, sdk.WithInterval(interval))),
		sdk.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	), nil
}

func newExporter(cfg ExporterConfig) (sdk.Exporter, error) {
	switch cfg.Type {
	case "", "stdout":
		return stdoutmetric.New()
	case "otlphttp":
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}

		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}

		return otlpmetrichttp.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unknown metrics exporter: %s", cfg.Type)
	}
}

// SetupMetrics installs provider globally. Recorders created earlier start reporting through it.
func SetupMetrics(provider *sdk.MeterProvider) error {
	if provider == nil {
		return nil
	}

	otel.SetMeterProvider(provider)

	return nil
}
