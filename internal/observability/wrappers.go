package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/toolgate/internal/gatekeeper"
)

// Runner is the execution surface gateways depend on. Both the raw
// gatekeeper and its instrumented wrapper satisfy it.
type Runner interface {
	Run(ctx context.Context, req gatekeeper.Request) (*gatekeeper.Result, error)
}

// InstrumentedRunner wraps a Runner with metrics and tracing.
type InstrumentedRunner struct {
	inner   Runner
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedRunner wraps inner with observability. Returns inner
// unchanged when nothing is enabled.
func NewInstrumentedRunner(inner Runner, metrics *MetricsCollector, ts *TracerSetup) Runner {
	if metrics == nil && ts == nil {
		return inner
	}
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedRunner{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (r *InstrumentedRunner) Run(ctx context.Context, req gatekeeper.Request) (*gatekeeper.Result, error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "tool.run",
			trace.WithAttributes(
				attribute.String("tool.name", req.Tool),
			))
		defer span.End()
	}

	if r.metrics != nil {
		r.metrics.ActiveExecutions.Inc()
		defer r.metrics.ActiveExecutions.Dec()
	}

	start := time.Now()
	res, err := r.inner.Run(ctx, req)
	duration := time.Since(start).Seconds()

	if err != nil {
		kind := gatekeeper.KindOf(err)
		if r.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if r.metrics != nil {
			switch kind {
			case gatekeeper.KindAccessDenied, gatekeeper.KindValidation:
				r.metrics.RefusalsTotal.WithLabelValues(string(kind)).Inc()
			case gatekeeper.KindTimeout:
				r.metrics.ExecutionTimeouts.WithLabelValues(req.Tool).Inc()
				r.metrics.ExecutionsTotal.WithLabelValues(req.Tool, "timeout").Inc()
				r.metrics.ExecutionDuration.WithLabelValues(req.Tool).Observe(duration)
			default:
				r.metrics.ExecutionsTotal.WithLabelValues(req.Tool, "error").Inc()
				r.metrics.ExecutionDuration.WithLabelValues(req.Tool).Observe(duration)
			}
		}
		return nil, err
	}

	if r.metrics != nil {
		status := "success"
		if res.ExitCode != 0 {
			status = "nonzero_exit"
		}
		r.metrics.ExecutionsTotal.WithLabelValues(req.Tool, status).Inc()
		r.metrics.ExecutionDuration.WithLabelValues(req.Tool).Observe(duration)
		if res.Truncated {
			r.metrics.OutputTruncations.WithLabelValues(req.Tool).Inc()
		}
	}

	return res, nil
}
