package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMissingToken      = errors.New("missing_token")
	ErrInvalidToken      = errors.New("invalid_token")
	ErrTokenExpired      = errors.New("token_expired")
	ErrAuthNotConfigured = errors.New("auth_not_configured")
)

type Service interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
	Issue(ctx context.Context, identity Identity, ttl time.Duration) (string, error)
}
