package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository covers subscriptions and payments. Plans go through the generic
// catalog store.
type Repository interface {
	FindActiveSubscription(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	LockSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	CancelActiveSubscriptions(ctx context.Context, db *gorm.DB, userID string, at time.Time) (int64, error)
	ScheduleCancellation(ctx context.Context, db *gorm.DB, userID string, at time.Time) (int64, error)
	AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, start, end, at time.Time) error
	ExpireSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	ListDueSubscriptions(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, userID string, id snowflake.ID) (*Payment, error)
	CountPayments(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListPayments(ctx context.Context, db *gorm.DB, userID string, limit, offset int) ([]PaymentView, error)
}
