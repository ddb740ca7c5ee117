package telemetry

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbot/pkg/engine"
)

// Telemetry bundles the logger, tracer and metrics of a process.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// New creates every telemetry component from cfg.
func New(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	return NewWithLogger(cfg, logger)
}

// NewWithLogger creates the tracer and metrics from cfg around an existing
// logger.
func NewWithLogger(cfg *Config, logger zerolog.Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Observer returns an engine.Observer feeding the tracer and metrics.
func (t *Telemetry) Observer() engine.Observer {
	return NewInstrumentation(t.Logger, t.Metrics, t.Tracer)
}

// Shutdown flushes spans and writes the metrics textfile when one is
// configured.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if path := t.Config.Metrics.Textfile; path != "" {
		if err := t.Metrics.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
