// Package telemetry provides observability for cookbot runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus). Instrumentation ties them to the engine: it is an
// engine.Observer that opens one span per run with a child span per hook
// call, counts runs, hooks and errors, and times both.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Tracing.Enabled = true
//	cfg.Tracing.Exporter = "otlp"
//	cfg.Metrics.Textfile = "/var/lib/node_exporter/cookbot.prom"
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	walker := engine.NewWalker(
//		engine.WithLogger(tel.Logger),
//		engine.WithObserver(tel.Observer()),
//	)
//
// # Metrics
//
// All metrics live on a private registry, prefixed with the configured
// namespace:
//
//   - runs_total{command,status}
//   - run_duration_seconds{command}
//   - active_runs
//   - hooks_total{hook,status}
//   - hook_duration_seconds{hook}
//   - errors_total{class,code}
//
// A CLI run is short lived, so instead of serving them the metrics are
// written to a textfile on Shutdown for the node exporter textfile
// collector. Handler serves them for long running processes such as
// "cookbot watch".
//
// # Tracing
//
// Exporters are "stdout" (pretty printed to stderr), "otlp" (gRPC) and
// "none", which still records spans so trace IDs show up in logs.
package telemetry
