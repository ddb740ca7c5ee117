package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for cookbot runs.
type Config struct {
	// ServiceName is the name reported on traces.
	ServiceName string `mapstructure:"service_name"`

	// ServiceVersion is the version reported on traces.
	ServiceVersion string `mapstructure:"service_version"`

	// Logging contains logging configuration.
	Logging LoggingConfig `mapstructure:"logging"`

	// Tracing contains tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Format is console or json.
	Format string `mapstructure:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `mapstructure:"caller"`

	// NoColor disables colors in console output.
	NoColor bool `mapstructure:"no_color"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	// Enabled controls whether spans are recorded.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `mapstructure:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `mapstructure:"insecure"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `mapstructure:"sampling_rate"`

	// ExportTimeout bounds a single export.
	ExportTimeout time.Duration `mapstructure:"export_timeout"`

	// Headers are sent with every OTLP export.
	Headers map[string]string `mapstructure:"headers"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool `mapstructure:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`

	// Textfile is written on shutdown for the node exporter textfile
	// collector. Empty disables it.
	Textfile string `mapstructure:"textfile"`

	// Buckets are the duration histogram buckets in seconds.
	Buckets []float64 `mapstructure:"buckets"`
}

// DefaultConfig returns a default telemetry configuration: console logs at
// info, no tracing and in-memory metrics.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "cookbot",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "stdout",
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Headers:       make(map[string]string),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "cookbot",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300,
			},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "disabled": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("an endpoint is required for the otlp exporter")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics namespace is required when metrics are enabled")
	}

	return nil
}
