package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// InsertWallet creates the wallet unless it exists and reports whether
	// this call inserted it.
	InsertWallet(ctx context.Context, db *gorm.DB, wallet *Wallet) (bool, error)
	LockWallet(ctx context.Context, db *gorm.DB, userID string) (*Wallet, error)
	FindWallet(ctx context.Context, db *gorm.DB, userID string) (*Wallet, error)
	UpdateBalance(ctx context.Context, db *gorm.DB, wallet *Wallet) error
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindRefund(ctx context.Context, db *gorm.DB, userID string, chargeID string) (*Transaction, error)
	CountTransactions(ctx context.Context, db *gorm.DB, userID string, actionType string) (int64, error)
	ListTransactions(ctx context.Context, db *gorm.DB, userID string, actionType string, limit, offset int) ([]Transaction, error)
	ListTransactionsSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) ([]Transaction, error)
}
