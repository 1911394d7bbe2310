package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/leadforge/internal/config"
)

const keyUserAction = "action:user:%s:%s"

var ErrRateLimited = errors.New("rate_limited")

// LimitedError reports how long the caller should wait.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate_limited: retry after %s", e.RetryAfter)
}

func (e *LimitedError) Is(target error) bool { return target == ErrRateLimited }

// ActionLimiter throttles billable actions per user and action type.
type ActionLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewActionLimiter(cfg config.Config, bucket *TokenBucket) (*ActionLimiter, error) {
	if bucket == nil {
		return nil, nil
	}
	if cfg.RateLimit.ActionRate <= 0 || cfg.RateLimit.ActionBurst <= 0 {
		return nil, errors.New("action rate limit must be positive")
	}
	return &ActionLimiter{
		bucket: bucket,
		rate:   cfg.RateLimit.ActionRate,
		burst:  cfg.RateLimit.ActionBurst,
	}, nil
}

func (l *ActionLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow returns *LimitedError when the bucket is empty. A disabled limiter
// always allows.
func (l *ActionLimiter) Allow(ctx context.Context, userID, actionType string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyUserAction, strings.TrimSpace(userID), strings.TrimSpace(actionType))
	decision, err := l.bucket.Take(ctx, key, l.rate, l.burst)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &LimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}
