package domain

import (
	"context"
	"errors"

	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
)

// Service meters one billable provider call end to end.
type Service interface {
	Run(ctx context.Context, req ActionRequest, call CallFunc) (*Outcome, error)
	Admit(ctx context.Context, userID string, actionType string) (*ledgerdomain.Admission, error)
}

// CallFunc performs the provider call with the resolved credential.
type CallFunc func(ctx context.Context, credential byokdomain.Resolution) error

type ActionRequest struct {
	UserID      string
	ActionType  string
	Provider    byokdomain.Provider
	ReferenceID string
	Metadata    map[string]any
}

type Outcome struct {
	Charge           *ledgerdomain.Result `json:"charge"`
	CredentialSource string               `json:"credential_source"`
	Refunded         bool                 `json:"refunded"`
}

// CreditsUsed is zero for exempt actions and refunded charges.
func (o *Outcome) CreditsUsed() int64 {
	if o == nil || o.Refunded || !o.Charge.Charged() {
		return 0
	}
	return o.Charge.Amount
}

var (
	ErrInvalidRequest = errors.New("invalid_metering_request")
	// ErrCredentialInvalid is returned after a user-supplied key was rejected
	// and BYOK was switched off for the user.
	ErrCredentialInvalid = errors.New("credential_invalid")
	// ErrCredentialUnavailable is returned when a debit was exempted for BYOK
	// but the user's key was gone by the time the call was made.
	ErrCredentialUnavailable = errors.New("credential_unavailable")
)
