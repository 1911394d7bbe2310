package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/leadforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllows(t *testing.T) {
	limiter, err := NewActionLimiter(config.Config{}, NewTokenBucket(nil))
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())
	assert.NoError(t, limiter.Allow(context.Background(), "user-1", "google_search"))
}

func TestActionLimiterRequiresPositiveRate(t *testing.T) {
	_, err := NewActionLimiter(config.Config{}, &TokenBucket{})
	assert.Error(t, err)
}

func TestNilLockerIsDisabled(t *testing.T) {
	locker := NewLocker(nil)
	assert.False(t, locker.Enabled())
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))

	_, ok, err := locker.TryLock(context.Background(), "k", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLockDisabled)
}

func TestLimitedErrorMatchesSentinel(t *testing.T) {
	err := error(&LimitedError{RetryAfter: 500 * time.Millisecond})
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Contains(t, err.Error(), "500ms")
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 10*time.Second, defaultBucketTTL(2, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 0))
}

func TestScriptReplyCasting(t *testing.T) {
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, int64(3), castToInt(3.9))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, float64(0), castToFloat("x"))
	assert.Equal(t, float64(4), castToFloat(int64(4)))
}
