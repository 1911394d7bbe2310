package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the upstream rejected the credential itself.
	ErrUnauthorized = errors.New("provider_unauthorized")
	ErrMissingKey   = errors.New("provider_key_missing")
	ErrRateLimited  = errors.New("provider_rate_limited")
	ErrUpstream     = errors.New("provider_upstream_failed")
	ErrInvalidInput = errors.New("provider_invalid_input")
)

// UpstreamError carries the upstream status and message behind a sentinel.
type UpstreamError struct {
	Kind    error
	Status  string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind.Error(), e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Kind }

// IsUnauthorized reports whether err is an authentication-class rejection.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
