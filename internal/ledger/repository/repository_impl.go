package repository

import (
	"context"
	"strings"
	"time"

	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	"github.com/smallbiznis/leadforge/pkg/db"
	"github.com/smallbiznis/leadforge/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const walletColumns = `user_id, balance, credits_used, is_trial, trial_granted,
	byok_enabled, byok_valid, keys_last_checked_at, created_at, updated_at`

const transactionColumns = `id, user_id, direction, amount, balance_after, action_type,
	reference_id, description, metadata, created_at`

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) InsertWallet(ctx context.Context, conn *gorm.DB, w *ledgerdomain.Wallet) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&ledgerdomain.Wallet{}).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(map[string]interface{}{
			"user_id":       w.UserID,
			"balance":       w.Balance,
			"credits_used":  w.CreditsUsed,
			"is_trial":      w.IsTrial,
			"trial_granted": w.TrialGranted,
			"byok_enabled":  w.ByokEnabled,
			"byok_valid":    w.ByokValid,
			"created_at":    w.CreatedAt,
			"updated_at":    w.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) LockWallet(ctx context.Context, conn *gorm.DB, userID string) (*ledgerdomain.Wallet, error) {
	var w ledgerdomain.Wallet
	err := conn.WithContext(ctx).Raw(
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = ?`+db.ForUpdate(conn),
		userID,
	).Scan(&w).Error
	if err != nil {
		return nil, err
	}
	if w.UserID == "" {
		return nil, nil
	}
	return &w, nil
}

func (r *repo) FindWallet(ctx context.Context, conn *gorm.DB, userID string) (*ledgerdomain.Wallet, error) {
	var w ledgerdomain.Wallet
	err := conn.WithContext(ctx).Raw(
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = ?`,
		userID,
	).Scan(&w).Error
	if err != nil {
		return nil, err
	}
	if w.UserID == "" {
		return nil, nil
	}
	return &w, nil
}

func (r *repo) UpdateBalance(ctx context.Context, conn *gorm.DB, w *ledgerdomain.Wallet) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET balance = ?, credits_used = ?, is_trial = ?, updated_at = ?
		 WHERE user_id = ?`,
		w.Balance,
		w.CreditsUsed,
		w.IsTrial,
		w.UpdatedAt,
		w.UserID,
	).Error
}

func (r *repo) InsertTransaction(ctx context.Context, conn *gorm.DB, t *ledgerdomain.Transaction) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.UserID,
		t.Direction,
		t.Amount,
		t.BalanceAfter,
		t.ActionType,
		t.ReferenceID,
		t.Description,
		t.Metadata,
		t.CreatedAt,
	).Error
}

func (r *repo) FindRefund(ctx context.Context, conn *gorm.DB, userID string, chargeID string) (*ledgerdomain.Transaction, error) {
	var t ledgerdomain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM credit_transactions
		 WHERE user_id = ? AND action_type = ? AND direction = ? AND reference_id = ?
		 LIMIT 1`,
		userID,
		ledgerdomain.ActionRefund,
		ledgerdomain.DirectionCredit,
		chargeID,
	).Scan(&t).Error
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, nil
	}
	return &t, nil
}

func (r *repo) CountTransactions(ctx context.Context, conn *gorm.DB, userID string, actionType string) (int64, error) {
	var total int64
	err := conn.WithContext(ctx).
		Model(&ledgerdomain.Transaction{}).
		Scopes(filterScope(userID, actionType)).
		Count(&total).Error
	return total, err
}

func (r *repo) ListTransactions(ctx context.Context, conn *gorm.DB, userID string, actionType string, limit, offset int) ([]ledgerdomain.Transaction, error) {
	var items []ledgerdomain.Transaction
	stmt := conn.WithContext(ctx).
		Model(&ledgerdomain.Transaction{}).
		Scopes(filterScope(userID, actionType))
	stmt = option.OrderBy("id", true, map[string]bool{"id": true}).Apply(stmt)
	if err := stmt.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListTransactionsSince(ctx context.Context, conn *gorm.DB, userID string, since time.Time) ([]ledgerdomain.Transaction, error) {
	var items []ledgerdomain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM credit_transactions
		 WHERE user_id = ? AND created_at >= ?
		 ORDER BY id ASC`,
		userID,
		since,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func filterScope(userID string, actionType string) func(*gorm.DB) *gorm.DB {
	return func(stmt *gorm.DB) *gorm.DB {
		stmt = option.Where("user_id = ?", userID).Apply(stmt)
		if actionType = strings.TrimSpace(actionType); actionType != "" {
			stmt = option.Where("action_type = ?", actionType).Apply(stmt)
		}
		return stmt
	}
}
