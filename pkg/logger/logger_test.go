package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFields(t *testing.T) {
	assert.Empty(t, Fields(context.Background()))

	ctx := WithRequestID(WithPeerKey(context.Background(), "Cam#abc"), "req-1")
	fields := Fields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "request_id", fields[0].Key)
	assert.Equal(t, "req-1", fields[0].String)
	assert.Equal(t, "peer_key", fields[1].Key)
	assert.Equal(t, "Cam#abc", fields[1].String)
}

func TestContextLogger_LogRequestLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))
	ctx := WithRequestID(context.Background(), "req-7")

	cl.LogRequest(ctx, "GET", "/api/v1/peers", 200, 3*time.Millisecond)
	cl.LogRequest(ctx, "POST", "/api/v1/commands", 400, time.Millisecond)
	cl.LogRequest(ctx, "POST", "/api/v1/frames", 502, time.Millisecond)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	ctxMap := entries[0].ContextMap()
	assert.Equal(t, "req-7", ctxMap["request_id"])
	assert.Equal(t, int64(200), ctxMap["status_code"])
	assert.Equal(t, int64(3), ctxMap["duration_ms"])
}

func TestNewWithFormat_FallsBackToInfo(t *testing.T) {
	l := NewWithFormat("shouting", "console")
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	l = New("debug")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}
