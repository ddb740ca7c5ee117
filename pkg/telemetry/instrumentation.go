package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/cookbot/pkg/engine"
)

// hookStartKey carries the start time of a hook call from HookStarted to
// HookFinished.
type hookStartKey struct{}

// Instrumentation is an engine.Observer that records every run and hook call
// as metrics, spans and debug logs. Any of its parts may be nil.
type Instrumentation struct {
	logger  zerolog.Logger
	metrics *Metrics
	tracer  *Tracer
}

var _ engine.Observer = (*Instrumentation)(nil)

// NewInstrumentation creates an observer on top of metrics and tracer.
func NewInstrumentation(logger zerolog.Logger, metrics *Metrics, tracer *Tracer) *Instrumentation {
	if tracer == nil {
		tracer = disabledTracer()
	}
	return &Instrumentation{
		logger:  Component(logger, "telemetry"),
		metrics: metrics,
		tracer:  tracer,
	}
}

// RunStarted opens the run span.
func (i *Instrumentation) RunStarted(ctx context.Context, run engine.RunInfo) context.Context {
	i.metrics.RunStarted()

	ctx, _ = i.tracer.Start(ctx, "cookbot.run "+run.Command,
		AttrRunID.String(run.ID),
		AttrRunCommand.String(run.Command),
		AttrRunRoot.String(run.Root),
		AttrRunDryRun.Bool(run.DryRun),
		attribute.StringSlice("cookbot.run.args", run.Args),
	)

	if traceID := TraceID(ctx); traceID != "" {
		i.logger.Debug().
			Str("run_id", run.ID).
			Str("trace_id", traceID).
			Msg("Run traced")
	}
	return ctx
}

// RunFinished records the run and closes its span.
func (i *Instrumentation) RunFinished(ctx context.Context, run engine.RunInfo, err error) {
	i.metrics.RecordRun(run.Command, string(run.Status), run.Duration)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(AttrRunStatus.String(string(run.Status)))

	if err != nil {
		class, code := engine.Classify(err)
		i.metrics.RecordError(string(class), code)
		span.SetAttributes(
			AttrErrorClass.String(string(class)),
			AttrErrorCode.String(code),
		)
	}
	RecordError(span, err)
	span.End()
}

// HookStarted opens a child span for the hook call.
func (i *Instrumentation) HookStarted(ctx context.Context, ev engine.Event) context.Context {
	attrs := []attribute.KeyValue{
		AttrRunID.String(ev.RunID),
		AttrRecipe.String(ev.Recipe),
		AttrRecipeKind.String(ev.Kind),
		AttrHook.String(string(ev.Hook)),
		AttrHookSeq.Int(ev.Seq),
	}
	if ev.Command != "" {
		attrs = append(attrs, AttrCommand.String(ev.Command))
	}

	ctx, _ = i.tracer.Start(ctx, "cookbot.hook "+ev.String(), attrs...)
	return context.WithValue(ctx, hookStartKey{}, time.Now())
}

// HookFinished records the hook call and closes its span.
func (i *Instrumentation) HookFinished(ctx context.Context, ev engine.Event, err error) {
	var duration time.Duration
	if start, ok := ctx.Value(hookStartKey{}).(time.Time); ok {
		duration = time.Since(start)
	}
	status := engine.StatusOf(err)
	i.metrics.RecordHook(string(ev.Hook), string(status), duration)

	span := trace.SpanFromContext(ctx)
	RecordError(span, err)
	span.End()

	i.logger.Debug().
		Str("run_id", ev.RunID).
		Int("seq", ev.Seq).
		Str("hook", ev.String()).
		Str("status", string(status)).
		Dur("duration", duration).
		Msg("Hook finished")
}
