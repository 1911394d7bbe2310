package authorization

import (
	"context"
	"errors"
)

const (
	ObjectCreditCost = "credit_cost"
	ObjectPlan       = "plan"
	ObjectCredits    = "credits"
	ObjectAuditLog   = "audit_log"
)

const (
	ActionCreditCostUpdate = "credit_cost.update"
	ActionCreditCostDelete = "credit_cost.delete"
	ActionPlanCreate       = "plan.create"
	ActionCreditsGrant     = "credits.grant"
	ActionAuditLogRead     = "audit_log.read"
)

const RoleAdmin = "role:admin"

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

type Service interface {
	Authorize(ctx context.Context, userID string, object string, action string) error
	GrantAdmin(ctx context.Context, userID string) error
	RevokeAdmin(ctx context.Context, userID string) error
	IsAdmin(ctx context.Context, userID string) (bool, error)
}
