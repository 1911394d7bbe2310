package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindFlags(ctx context.Context, db *gorm.DB, userID string) (*Flags, error)
	LockFlags(ctx context.Context, db *gorm.DB, userID string) (*Flags, error)
	UpdateFlags(ctx context.Context, db *gorm.DB, flags Flags, at time.Time) error
	Invalidate(ctx context.Context, db *gorm.DB, userID string, at time.Time) (int64, error)
	ListCredentials(ctx context.Context, db *gorm.DB, userID string) ([]Credential, error)
	FindCredential(ctx context.Context, db *gorm.DB, userID string, provider Provider) (*Credential, error)
	UpsertCredential(ctx context.Context, db *gorm.DB, cred *Credential) error
	DeleteCredentials(ctx context.Context, db *gorm.DB, userID string, providers []Provider) (int64, error)
}
