package logger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey string

const (
	// PeerKeyContextKey carries the remote peer identity key, or the API
	// token subject, for log enrichment.
	PeerKeyContextKey ctxKey = "peer_key"
	// RequestIDContextKey carries the control API request id.
	RequestIDContextKey ctxKey = "request_id"
)

func WithPeerKey(ctx context.Context, peerKey string) context.Context {
	return context.WithValue(ctx, PeerKeyContextKey, peerKey)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDContextKey, requestID)
}

// ContextLogger enriches log lines with trace, request and peer ids taken
// from a context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// Fields returns the ids present on ctx.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if key, ok := ctx.Value(PeerKeyContextKey).(string); ok && key != "" {
		fields = append(fields, zap.String("peer_key", key))
	}
	return fields
}

func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// Sugar is WithContext for components logging key-value pairs.
func (cl *ContextLogger) Sugar(ctx context.Context) *zap.SugaredLogger {
	return cl.WithContext(ctx).Sugar()
}

// LogRequest logs one finished control API request. Server errors log at
// error level, client errors at warn.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, elapsed time.Duration) {
	log := cl.WithContext(ctx)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}

	switch {
	case statusCode >= 500:
		log.Error("http_request", fields...)
	case statusCode >= 400:
		log.Warn("http_request", fields...)
	default:
		log.Info("http_request", fields...)
	}
}
