package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodYearly  BillingPeriod = "yearly"
)

// Next returns the end of a period starting at start.
func (p BillingPeriod) Next(start time.Time) time.Time {
	if p == PeriodYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func (p BillingPeriod) Valid() bool {
	return p == PeriodMonthly || p == PeriodYearly
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

type PaymentKind string

const (
	PaymentSubscription PaymentKind = "subscription"
	PaymentRenewal      PaymentKind = "renewal"
	PaymentPurchase     PaymentKind = "purchase"
)

const PaymentCompleted = "completed"

type Plan struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey"`
	Slug          string         `json:"slug" gorm:"type:text;not null;uniqueIndex"`
	Name          string         `json:"name" gorm:"type:text;not null"`
	Description   string         `json:"description" gorm:"type:text;not null;default:''"`
	Credits       int64          `json:"credits" gorm:"not null;check:chk_plans_credits,credits > 0"`
	PriceCents    int64          `json:"price_cents" gorm:"not null;check:chk_plans_price_cents,price_cents >= 0"`
	Currency      string         `json:"currency" gorm:"type:text;not null;default:'USD'"`
	BillingPeriod BillingPeriod  `json:"billing_period" gorm:"type:text;not null"`
	Features      datatypes.JSON `json:"features,omitempty"`
	SortOrder     int            `json:"sort_order" gorm:"not null;default:0"`
	IsActive      bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt     time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "plans" }

// Subscription is at most one active row per user.
type Subscription struct {
	ID                 snowflake.ID       `json:"id" gorm:"primaryKey"`
	UserID             string             `json:"user_id" gorm:"type:text;not null;uniqueIndex:ux_subscriptions_user_active,where:status = 'active'"`
	PlanID             snowflake.ID       `json:"plan_id" gorm:"not null"`
	Status             SubscriptionStatus `json:"status" gorm:"type:text;not null;index:ix_subscriptions_renewal,priority:1"`
	CurrentPeriodStart time.Time          `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" gorm:"not null;index:ix_subscriptions_renewal,priority:2"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end" gorm:"not null;default:false"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }

type Payment struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	UserID         string         `json:"user_id" gorm:"type:text;not null;index:ix_payments_user"`
	SubscriptionID *snowflake.ID  `json:"subscription_id,omitempty"`
	PlanID         *snowflake.ID  `json:"plan_id,omitempty"`
	Kind           PaymentKind    `json:"kind" gorm:"type:text;not null"`
	AmountCents    int64          `json:"amount_cents" gorm:"not null;check:chk_payments_amount_cents,amount_cents >= 0"`
	Currency       string         `json:"currency" gorm:"type:text;not null"`
	Credits        int64          `json:"credits" gorm:"not null;default:0"`
	Status         string         `json:"status" gorm:"type:text;not null"`
	PaymentMethod  string         `json:"payment_method" gorm:"type:text;not null;default:'card'"`
	Description    string         `json:"description" gorm:"type:text;not null;default:''"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }
