package metrics

import "time"

type Config struct {
	Enabled     bool   `conf:"enabled" yaml:"enabled" json:"enabled"`
	ServiceName string `conf:"service_name" yaml:"service_name" json:"service_name"`

	// Exporter is stdout or otlphttp.
	Exporter ExporterConfig `conf:"exporter" yaml:"exporter" json:"exporter"`

	Interval time.Duration `conf:"interval" yaml:"interval" json:"interval"`
}

type ExporterConfig struct {
	Type     string `conf:"type" yaml:"type" json:"type"`
	Endpoint string `conf:"endpoint" yaml:"endpoint" json:"endpoint"`
	Insecure bool   `conf:"insecure" yaml:"insecure" json:"insecure"`
}
