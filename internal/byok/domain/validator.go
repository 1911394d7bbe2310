package domain

import (
	"context"
	"time"
)

//go:generate mockgen -source=validator.go -destination=../mocks/mock_validator.go -package=mocks

// Validator checks a raw key against its provider.
type Validator interface {
	Provider() Provider
	Validate(ctx context.Context, key string) error
}

// Locker serializes key verification per user across instances.
type Locker interface {
	Enabled() bool
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}
