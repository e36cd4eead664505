package workflow

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer starts a span named name with attrs and returns a context carrying
// it alongside a finish func the caller invokes with the operation's error
// (nil for success). It mirrors pkg/tracing's OTelTracer adaptation of the
// OpenTelemetry API, scoped to this package so the facade and dispatcher can
// depend on it without pulling in the rest of that package's framework
// plumbing.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))
}

// noopTracer is the default Facade/ExecutionService tracer: StartSpan is a
// no-op so the core runs with zero tracing overhead until a caller wires a
// real one via Facade.SetTracer / ExecutionService.SetTracer.
type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// OTelTracer adapts an OpenTelemetry tracer to Tracer.
type OTelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer builds a Tracer from provider (the global provider if nil)
// under the given instrumentation name, defaulting to "workflow-orchestrator"
// when empty.
func NewOTelTracer(provider oteltrace.TracerProvider, instrumentation string) Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if provider == nil {
		return noopTracer{}
	}
	if strings.TrimSpace(instrumentation) == "" {
		instrumentation = "workflow-orchestrator"
	}
	return &OTelTracer{tracer: provider.Tracer(instrumentation)}
}

// StartSpan implements Tracer.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	if t == nil || t.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, name, oteltrace.WithAttributes(convertAttrs(attrs)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func convertAttrs(attrs map[string]string) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	result := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		result = append(result, attribute.String(key, v))
	}
	return result
}
