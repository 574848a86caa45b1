package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "dozer/lifecycle"

	HostKey      = "dozer.host"
	ContainerKey = "dozer.container"
	OutcomeKey   = "dozer.outcome"
)

// Tracer returns the global tracer used by the controller.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Operation is one traced controller operation with child steps.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// Begin starts a root span named name. A nil tracer falls back to the global
// tracer provider, which is a no-op unless the daemon installed one.
func Begin(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) *Operation {
	if tracer == nil {
		tracer = Tracer()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "operation"
	}
	spanCtx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return &Operation{ctx: spanCtx, tracer: tracer, span: span}
}

func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep runs fn inside a child span. Errors are recorded on the step span
// and returned unchanged.
func (o *Operation) RunStep(id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	if o == nil || o.tracer == nil {
		return fn(context.Background())
	}

	stepCtx, span := o.tracer.Start(o.ctx, strings.TrimSpace(id))
	defer span.End()

	if err := fn(stepCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// SetOutcome tags the root span with a short outcome label.
func (o *Operation) SetOutcome(outcome string) {
	if o == nil || o.span == nil {
		return
	}
	o.span.SetAttributes(attribute.String(OutcomeKey, outcome))
}

func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}
