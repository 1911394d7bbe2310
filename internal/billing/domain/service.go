package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	"github.com/smallbiznis/leadforge/pkg/db/pagination"
)

type Service interface {
	ListPlans(ctx context.Context) ([]Plan, error)
	GetPlan(ctx context.Context, slug string) (*Plan, error)
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error)

	GetActiveSubscription(ctx context.Context, userID string) (*SubscriptionView, error)
	Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResult, error)
	Cancel(ctx context.Context, userID string, atPeriodEnd bool) (*Subscription, error)

	ListPayments(ctx context.Context, req ListPaymentsRequest) (*ListPaymentsResponse, error)
	BuyCredits(ctx context.Context, req BuyCreditsRequest) (*PurchaseResult, error)
	Receipt(ctx context.Context, userID string, paymentID snowflake.ID) ([]byte, error)

	// RenewDue grants the next period to active subscriptions whose period
	// ended and expires those marked to cancel at period end.
	RenewDue(ctx context.Context, now time.Time, limit int) (*RenewalSummary, error)
}

type CreatePlanRequest struct {
	Name          string        `json:"name"`
	Slug          string        `json:"slug"`
	Description   string        `json:"description"`
	Credits       int64         `json:"credits"`
	PriceCents    int64         `json:"price_cents"`
	Currency      string        `json:"currency"`
	BillingPeriod BillingPeriod `json:"billing_period"`
	Features      []string      `json:"features"`
	SortOrder     int           `json:"sort_order"`
}

type SubscribeRequest struct {
	UserID        string
	PlanSlug      string
	PaymentMethod string
}

type SubscriptionView struct {
	Subscription
	PlanName     string `json:"plan_name"`
	PlanSlug     string `json:"plan_slug"`
	PlanCredits  int64  `json:"plan_credits"`
	PlanPrice    int64  `json:"plan_price_cents"`
	PlanCurrency string `json:"plan_currency"`
}

type SubscribeResult struct {
	Subscription *Subscription        `json:"subscription"`
	Payment      *Payment             `json:"payment"`
	CreditsAdded int64                `json:"credits_added"`
	Credit       *ledgerdomain.Result `json:"credit"`
}

type ListPaymentsRequest struct {
	UserID string
	pagination.Pagination
}

type PaymentView struct {
	Payment
	PlanName *string `json:"plan_name,omitempty"`
}

type ListPaymentsResponse struct {
	Payments []PaymentView       `json:"payments"`
	PageInfo pagination.PageInfo `json:"pagination"`
}

type BuyCreditsRequest struct {
	UserID        string
	Credits       int64
	PaymentMethod string
}

type PurchaseResult struct {
	Payment *Payment             `json:"payment"`
	Credit  *ledgerdomain.Result `json:"credit"`
}

type RenewalSummary struct {
	Scanned int `json:"scanned"`
	Renewed int `json:"renewed"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrPlanSlugTaken        = errors.New("plan_slug_taken")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrSubscriptionConflict = errors.New("subscription_conflict")
	ErrPurchaseBelowMinimum = errors.New("purchase_below_minimum")
	ErrPurchaseAboveMaximum = errors.New("purchase_above_maximum")
	ErrPaymentNotFound      = errors.New("payment_not_found")
)
