package repository

import (
	"context"
	"time"

	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"github.com/smallbiznis/leadforge/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() byokdomain.Repository {
	return &repo{}
}

func (r *repo) FindFlags(ctx context.Context, conn *gorm.DB, userID string) (*byokdomain.Flags, error) {
	var flags byokdomain.Flags
	err := conn.WithContext(ctx).Raw(
		`SELECT user_id, byok_enabled, byok_valid, keys_last_checked_at FROM wallets WHERE user_id = ?`,
		userID,
	).Scan(&flags).Error
	if err != nil {
		return nil, err
	}
	if flags.UserID == "" {
		return nil, nil
	}
	return &flags, nil
}

func (r *repo) LockFlags(ctx context.Context, conn *gorm.DB, userID string) (*byokdomain.Flags, error) {
	var flags byokdomain.Flags
	err := conn.WithContext(ctx).Raw(
		`SELECT user_id, byok_enabled, byok_valid, keys_last_checked_at FROM wallets WHERE user_id = ?`+db.ForUpdate(conn),
		userID,
	).Scan(&flags).Error
	if err != nil {
		return nil, err
	}
	if flags.UserID == "" {
		return nil, nil
	}
	return &flags, nil
}

func (r *repo) UpdateFlags(ctx context.Context, conn *gorm.DB, flags byokdomain.Flags, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET byok_enabled = ?, byok_valid = ?, keys_last_checked_at = ?, updated_at = ?
		 WHERE user_id = ?`,
		flags.ByokEnabled,
		flags.ByokValid,
		flags.KeysLastCheckedAt,
		at,
		flags.UserID,
	).Error
}

func (r *repo) Invalidate(ctx context.Context, conn *gorm.DB, userID string, at time.Time) (int64, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET byok_enabled = ?, byok_valid = ?, updated_at = ?
		 WHERE user_id = ? AND (byok_enabled = ? OR byok_valid = ?)`,
		false,
		false,
		at,
		userID,
		true,
		true,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ListCredentials(ctx context.Context, conn *gorm.DB, userID string) ([]byokdomain.Credential, error) {
	var items []byokdomain.Credential
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, provider, ciphertext, created_at, updated_at
		 FROM wallet_credentials
		 WHERE user_id = ?
		 ORDER BY provider ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindCredential(ctx context.Context, conn *gorm.DB, userID string, provider byokdomain.Provider) (*byokdomain.Credential, error) {
	var cred byokdomain.Credential
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, provider, ciphertext, created_at, updated_at
		 FROM wallet_credentials
		 WHERE user_id = ? AND provider = ?`,
		userID,
		provider,
	).Scan(&cred).Error
	if err != nil {
		return nil, err
	}
	if cred.ID == 0 {
		return nil, nil
	}
	return &cred, nil
}

func (r *repo) UpsertCredential(ctx context.Context, conn *gorm.DB, cred *byokdomain.Credential) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "updated_at"}),
		}).
		Create(cred).Error
}

func (r *repo) DeleteCredentials(ctx context.Context, conn *gorm.DB, userID string, providers []byokdomain.Provider) (int64, error) {
	if len(providers) == 0 {
		return 0, nil
	}
	result := conn.WithContext(ctx).Exec(
		`DELETE FROM wallet_credentials WHERE user_id = ? AND provider IN ?`,
		userID,
		providers,
	)
	return result.RowsAffected, result.Error
}
