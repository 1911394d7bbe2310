package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// Resolve picks the credential for one provider call. It never fails:
	// any problem with the user's key falls back to the system key.
	Resolve(ctx context.Context, userID string, provider Provider) Resolution
	// System returns the operator-held credential for provider.
	System(provider Provider) Resolution
	// Invalidate clears both BYOK flags after a provider rejected a user key.
	Invalidate(ctx context.Context, userID string) error
	SetEnabled(ctx context.Context, userID string, enabled bool) (*Status, error)
	Status(ctx context.Context, userID string) (*Status, error)
	SaveKeys(ctx context.Context, userID string, req SaveKeysRequest) (*Status, error)
	RemoveKeys(ctx context.Context, userID string, target string) (*Status, error)
	VerifyAndSwitch(ctx context.Context, userID string) (*VerifyResult, error)
}

type Resolution struct {
	Provider     Provider
	Credential   string
	UserSupplied bool
}

func (r Resolution) Source() string {
	if r.UserSupplied {
		return "user"
	}
	return "system"
}

type KeyStatus struct {
	Provider   Provider   `json:"provider"`
	Configured bool       `json:"configured"`
	Masked     string     `json:"masked,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

type Status struct {
	ByokEnabled       bool        `json:"byok_enabled"`
	ByokValid         bool        `json:"byok_valid"`
	Active            bool        `json:"byok_active"`
	KeysLastCheckedAt *time.Time  `json:"keys_last_checked_at,omitempty"`
	Keys              []KeyStatus `json:"keys"`
}

type SaveKeysRequest struct {
	PlacesKey     string `json:"places_api_key"`
	GenerationKey string `json:"generation_api_key"`
	Enable        *bool  `json:"enable_byok"`
}

func (r SaveKeysRequest) Keys() map[Provider]string {
	keys := make(map[Provider]string, 2)
	if r.PlacesKey != "" {
		keys[ProviderPlaces] = r.PlacesKey
	}
	if r.GenerationKey != "" {
		keys[ProviderGeneration] = r.GenerationKey
	}
	return keys
}

type ProviderCheck struct {
	Provider Provider `json:"provider"`
	Valid    bool     `json:"valid"`
	Error    string   `json:"error,omitempty"`
}

type VerifyResult struct {
	Valid             bool            `json:"valid"`
	SwitchedToCredits bool            `json:"switched_to_credits"`
	Checks            []ProviderCheck `json:"checks"`
	Status            *Status         `json:"status"`
}

const RemoveAll = "all"

var (
	ErrInvalidUser                  = errors.New("invalid_user")
	ErrUnsupportedProvider          = errors.New("unsupported_provider")
	ErrNoCredentials                = errors.New("no_credentials")
	ErrCredentialVerificationFailed = errors.New("credential_verification_failed")
	ErrCredentialsChanged           = errors.New("credentials_changed")
	ErrEncryptionKeyMissing         = errors.New("encryption_key_missing")
	ErrVerificationInProgress       = errors.New("verification_in_progress")
)

// VerificationError names the provider whose key failed verification.
type VerificationError struct {
	Provider Provider
	Err      error
}

func (e *VerificationError) Error() string {
	return "credential_verification_failed: " + string(e.Provider) + ": " + e.Err.Error()
}

func (e *VerificationError) Unwrap() error { return e.Err }

func (e *VerificationError) Is(target error) bool {
	return target == ErrCredentialVerificationFailed
}
