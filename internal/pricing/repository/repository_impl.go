package repository

import (
	"context"
	"time"

	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() pricingdomain.Repository {
	return &repo{}
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, actionType string) (*pricingdomain.CreditCost, error) {
	var cost pricingdomain.CreditCost
	err := db.WithContext(ctx).Raw(
		`SELECT action_type, credits_required, description, is_active, created_at, updated_at
		 FROM credit_costs
		 WHERE action_type = ? AND is_active = ?`,
		actionType,
		true,
	).Scan(&cost).Error
	if err != nil {
		return nil, err
	}
	if cost.ActionType == "" {
		return nil, nil
	}
	return &cost, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]pricingdomain.CreditCost, error) {
	var items []pricingdomain.CreditCost
	err := db.WithContext(ctx).Raw(
		`SELECT action_type, credits_required, description, is_active, created_at, updated_at
		 FROM credit_costs
		 WHERE is_active = ?
		 ORDER BY credits_required ASC, action_type ASC`,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, cost *pricingdomain.CreditCost) error {
	return db.WithContext(ctx).
		Model(&pricingdomain.CreditCost{}).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "action_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"credits_required", "description", "is_active", "updated_at"}),
		}).
		Create(costValues(cost)).Error
}

func (r *repo) InsertIfMissing(ctx context.Context, db *gorm.DB, cost *pricingdomain.CreditCost) (bool, error) {
	result := db.WithContext(ctx).
		Model(&pricingdomain.CreditCost{}).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "action_type"}},
			DoNothing: true,
		}).
		Create(costValues(cost))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// costValues keeps zero values such as is_active=false out of column defaults.
func costValues(cost *pricingdomain.CreditCost) map[string]interface{} {
	return map[string]interface{}{
		"action_type":      cost.ActionType,
		"credits_required": cost.CreditsRequired,
		"description":      cost.Description,
		"is_active":        cost.IsActive,
		"created_at":       cost.CreatedAt,
		"updated_at":       cost.UpdatedAt,
	}
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, actionType string, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_costs SET is_active = ?, updated_at = ? WHERE action_type = ? AND is_active = ?`,
		false,
		at,
		actionType,
		true,
	)
	return result.RowsAffected, result.Error
}
