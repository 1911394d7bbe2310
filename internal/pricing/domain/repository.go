package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindActive(ctx context.Context, db *gorm.DB, actionType string) (*CreditCost, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]CreditCost, error)
	Upsert(ctx context.Context, db *gorm.DB, cost *CreditCost) error
	InsertIfMissing(ctx context.Context, db *gorm.DB, cost *CreditCost) (bool, error)
	Deactivate(ctx context.Context, db *gorm.DB, actionType string, at time.Time) (int64, error)
}
