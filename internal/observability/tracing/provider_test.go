package tracing

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/leadforge/internal/observability/context"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDPrefersRequestID(t *testing.T) {
	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", correlationID(ctx))
}

func TestCorrelationIDGeneratesUlid(t *testing.T) {
	first := correlationID(context.Background())
	second := correlationID(context.Background())

	assert.Len(t, first, 26)
	assert.NotEqual(t, first, second)
}
