package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Cost returns the current price of actionType. Unknown or inactive
	// actions fail with ErrUnknownAction.
	Cost(ctx context.Context, actionType string) (int64, error)
	List(ctx context.Context) ([]CreditCost, error)
	Upsert(ctx context.Context, req UpsertRequest) (*CreditCost, error)
	Deactivate(ctx context.Context, actionType string) error
	SeedDefaults(ctx context.Context, defaults []SeedCost) (int, error)
}

type UpsertRequest struct {
	ActionType      string `json:"action_type"`
	CreditsRequired int64  `json:"credits_required"`
	Description     string `json:"description"`
}

type SeedCost struct {
	ActionType  string
	Credits     int64
	Description string
}

var (
	ErrUnknownAction     = errors.New("unknown_action")
	ErrInvalidActionType = errors.New("invalid_action_type")
	ErrInvalidCredits    = errors.New("invalid_credits_required")
)
