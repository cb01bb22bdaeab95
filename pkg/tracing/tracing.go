// Package tracing wires OpenTelemetry spans around handshakes, discovery
// rounds and API requests, exported to Jaeger when enabled.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "studiolink"

type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
	NodeName    string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "studiolink",
		Version:     "dev",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// TracerProvider owns the SDK provider so main can flush it on shutdown.
// The zero value is a no-op.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a global provider exporting to cfg.JaegerURL. Sampling
// follows the parent span so a traced API call keeps its handshake spans.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("jaeger exporter: %w", err)
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return &TracerProvider{tp: tp}, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.Version),
		attribute.String("environment", cfg.Environment),
	}
	if cfg.NodeName != "" {
		attrs = append(attrs, NodeNameKey.String(cfg.NodeName))
	}
	return attrs
}

// Shutdown flushes pending spans.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

var (
	NodeNameKey   = attribute.Key("studio.node")
	PeerKeyKey    = attribute.Key("peer.key")
	DirectionKey  = attribute.Key("handshake.direction")
	ServiceKey    = attribute.Key("discovery.service")
	EncryptionKey = attribute.Key("session.encryption")
	DurationKey   = attribute.Key("duration_ms")
)

const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// AddSpanAttributes is a no-op when ctx carries no recording span.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx failed with err.
func RecordError(ctx context.Context, err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// MeasureDuration stamps the span in ctx with the milliseconds since start.
func MeasureDuration(ctx context.Context, start time.Time) {
	AddSpanAttributes(ctx, DurationKey.Int64(time.Since(start).Milliseconds()))
}

// TraceHTTPRequest opens a server span for one API request.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(semconv.HTTPMethodKey.String(method), semconv.HTTPRouteKey.String(route)),
	)
}

// TraceHandshake spans one connection attempt, dialed or accepted.
func TraceHandshake(ctx context.Context, direction, peerKey, encryption string) (context.Context, trace.Span) {
	kind := trace.SpanKindClient
	if direction == DirectionInbound {
		kind = trace.SpanKindServer
	}
	return StartSpan(ctx, "session.handshake",
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			DirectionKey.String(direction),
			PeerKeyKey.String(peerKey),
			EncryptionKey.String(encryption),
		),
	)
}

// TraceDiscovery spans an advertise call or a browse round.
func TraceDiscovery(ctx context.Context, operation, service string) (context.Context, trace.Span) {
	return StartSpan(ctx, "discovery."+operation, trace.WithAttributes(ServiceKey.String(service)))
}
