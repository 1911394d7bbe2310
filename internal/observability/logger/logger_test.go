package logger

import (
	"context"
	"net/http"
	"testing"

	obscontext "github.com/smallbiznis/leadforge/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithUserID(ctx, "user-1")
	WithContext(ctx, base).Info("debit")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "user-1", fields["user_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestWithContextWithoutFieldsReturnsBase(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, WithContext(context.Background(), base))
}

func TestRequestIDFrom(t *testing.T) {
	assert.Equal(t, "abc-123", requestIDFrom(" abc-123 "))
	assert.NotEqual(t, "has space", requestIDFrom("has space"))
	assert.Len(t, requestIDFrom(""), 36)
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/health", http.StatusOK, ""))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/api/credits", http.StatusServiceUnavailable, "service_unavailable"))
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/api/ai/email", http.StatusPaymentRequired, "insufficient_credits"))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/api/places/nearby", http.StatusTooManyRequests, "rate_limited"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/api/credits", http.StatusOK, ""))
}
