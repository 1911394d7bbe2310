package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	"github.com/smallbiznis/leadforge/pkg/db"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, user_id, plan_id, status, current_period_start, current_period_end,
	cancel_at_period_end, cancelled_at, created_at, updated_at`

const paymentColumns = `id, user_id, subscription_id, plan_id, kind, amount_cents, currency, credits,
	status, payment_method, description, metadata, created_at`

type repo struct{}

func Provide() billingdomain.Repository {
	return &repo{}
}

func (r *repo) FindActiveSubscription(ctx context.Context, conn *gorm.DB, userID string) (*billingdomain.Subscription, error) {
	var sub billingdomain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1`,
		userID,
		billingdomain.SubscriptionActive,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) LockSubscription(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*billingdomain.Subscription, error) {
	var sub billingdomain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`+db.ForUpdate(conn),
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) InsertSubscription(ctx context.Context, conn *gorm.DB, sub *billingdomain.Subscription) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, plan_id, status, current_period_start, current_period_end,
			cancel_at_period_end, cancelled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.UserID,
		sub.PlanID,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.CancelledAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) CancelActiveSubscriptions(ctx context.Context, conn *gorm.DB, userID string, at time.Time) (int64, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		SET status = ?, cancelled_at = ?, updated_at = ?
		WHERE user_id = ? AND status = ?`,
		billingdomain.SubscriptionCancelled,
		at,
		at,
		userID,
		billingdomain.SubscriptionActive,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ScheduleCancellation(ctx context.Context, conn *gorm.DB, userID string, at time.Time) (int64, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		SET cancel_at_period_end = ?, updated_at = ?
		WHERE user_id = ? AND status = ?`,
		true,
		at,
		userID,
		billingdomain.SubscriptionActive,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) AdvancePeriod(ctx context.Context, conn *gorm.DB, id snowflake.ID, start, end, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		SET current_period_start = ?, current_period_end = ?, updated_at = ?
		WHERE id = ?`,
		start,
		end,
		at,
		id,
	).Error
}

func (r *repo) ExpireSubscription(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		SET status = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		billingdomain.SubscriptionExpired,
		at,
		at,
		id,
		billingdomain.SubscriptionActive,
	).Error
}

func (r *repo) ListDueSubscriptions(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]billingdomain.Subscription, error) {
	var subs []billingdomain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = ? AND current_period_end <= ?
		ORDER BY current_period_end ASC, id ASC
		LIMIT ?`,
		billingdomain.SubscriptionActive,
		now,
		limit,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) InsertPayment(ctx context.Context, conn *gorm.DB, payment *billingdomain.Payment) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.UserID,
		payment.SubscriptionID,
		payment.PlanID,
		payment.Kind,
		payment.AmountCents,
		payment.Currency,
		payment.Credits,
		payment.Status,
		payment.PaymentMethod,
		payment.Description,
		payment.Metadata,
		payment.CreatedAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, conn *gorm.DB, userID string, id snowflake.ID) (*billingdomain.Payment, error) {
	var payment billingdomain.Payment
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ? AND user_id = ?`,
		id,
		userID,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) CountPayments(ctx context.Context, conn *gorm.DB, userID string) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM payments WHERE user_id = ?`,
		userID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ListPayments(ctx context.Context, conn *gorm.DB, userID string, limit, offset int) ([]billingdomain.PaymentView, error) {
	var rows []billingdomain.PaymentView
	err := conn.WithContext(ctx).Raw(
		`SELECT p.id, p.user_id, p.subscription_id, p.plan_id, p.kind, p.amount_cents, p.currency,
			p.credits, p.status, p.payment_method, p.description, p.metadata, p.created_at,
			pl.name AS plan_name
		FROM payments p
		LEFT JOIN plans pl ON pl.id = p.plan_id
		WHERE p.user_id = ?
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT ? OFFSET ?`,
		userID,
		limit,
		offset,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
