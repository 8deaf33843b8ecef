package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// NewStdoutTracerProvider builds a *sdktrace.TracerProvider that writes
// every span to w as newline-delimited JSON via stdouttrace. w may be
// nil to use the exporter's default (os.Stdout).
func NewStdoutTracerProvider(serviceName string, w io.Writer) (*sdktrace.TracerProvider, error) {
	var expOpts []stdouttrace.Option
	if w != nil {
		expOpts = append(expOpts, stdouttrace.WithWriter(w))
	}
	exporter, err := stdouttrace.New(expOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// OTelSpanFactory implements SpanFactory over go.opentelemetry.io/otel/sdk.
// It writes to whatever exporter its provider carries (the stdout exporter
// when the provider comes from NewStdoutTracerProvider);
// a network exporter (OTLP/gRPC, OTLP/HTTP) is deliberately out of
// scope here.
//
// Grounded on the teacher's OTLPTracerProvider, with the OTLP gRPC/HTTP
// exporter construction dropped in favor of stdouttrace.
type OTelSpanFactory struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOTelSpanFactory wraps an already-configured *sdktrace.TracerProvider
// (typically built with stdouttrace.New() as its exporter) and names the
// tracer after serviceName.
func NewOTelSpanFactory(provider *sdktrace.TracerProvider, serviceName string) *OTelSpanFactory {
	return &OTelSpanFactory{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
	}
}

// StartSpan implements SpanFactory.
func (f *OTelSpanFactory) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := &spanConfig{kind: SpanKindInternal, attributes: make(map[string]any)}
	for _, opt := range opts {
		opt(cfg)
	}

	var kind trace.SpanKind
	switch cfg.kind {
	case SpanKindServer:
		kind = trace.SpanKindServer
	case SpanKindClient:
		kind = trace.SpanKindClient
	case SpanKindProducer:
		kind = trace.SpanKindProducer
	case SpanKindConsumer:
		kind = trace.SpanKindConsumer
	default:
		kind = trace.SpanKindInternal
	}

	ctx, span := f.tracer.Start(ctx, name, trace.WithSpanKind(kind))
	for k, v := range cfg.attributes {
		span.SetAttributes(anyToAttribute(k, v))
	}
	return ctx, &otelSpan{span: span}
}

// Shutdown flushes and stops the underlying tracer provider.
func (f *OTelSpanFactory) Shutdown(ctx context.Context) error {
	return f.provider.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(anyToAttribute(key, value))
}

func (s *otelSpan) AddEvent(name string, attrs map[string]any) {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, anyToAttribute(k, v))
	}
	s.span.AddEvent(name, trace.WithAttributes(otelAttrs...))
}

func (s *otelSpan) SetStatus(code SpanStatus, description string) {
	switch code {
	case SpanStatusOK:
		s.span.SetStatus(codes.Ok, description)
	case SpanStatusError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, description)
	}
}

func (s *otelSpan) SpanContext() SpanContext {
	sc := s.span.SpanContext()
	return SpanContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
}

func anyToAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, "")
	}
}
