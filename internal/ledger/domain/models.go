package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Direction of a credit transaction relative to the wallet.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Reserved action types written by the ledger and the billing gateway.
const (
	ActionTrial        = "trial"
	ActionRefund       = "refund"
	ActionSubscription = "subscription"
	ActionRenewal      = "renewal"
	ActionPurchase     = "purchase"
	ActionAdminGrant   = "admin_grant"
)

// Wallet is the per-user credit account. Balance never drops below zero.
type Wallet struct {
	UserID            string     `json:"user_id" gorm:"primaryKey;type:text"`
	Balance           int64      `json:"balance" gorm:"not null;default:0;check:chk_wallets_balance,balance >= 0"`
	CreditsUsed       int64      `json:"credits_used" gorm:"not null;default:0;check:chk_wallets_credits_used,credits_used >= 0"`
	IsTrial           bool       `json:"is_trial" gorm:"not null;default:true"`
	TrialGranted      bool       `json:"trial_granted" gorm:"not null;default:false"`
	ByokEnabled       bool       `json:"byok_enabled" gorm:"column:byok_enabled;not null;default:false"`
	ByokValid         bool       `json:"byok_valid" gorm:"column:byok_valid;not null;default:false"`
	KeysLastCheckedAt *time.Time `json:"keys_last_checked_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Wallet) TableName() string { return "wallets" }

// Exempt reports whether debits bypass the balance.
func (w Wallet) Exempt() bool {
	return w.ByokEnabled && w.ByokValid
}

// Transaction is an append-only balance movement. Replaying a user's rows in
// id order from zero reproduces the wallet balance.
type Transaction struct {
	ID           snowflake.ID   `json:"id" gorm:"primaryKey"`
	UserID       string         `json:"user_id" gorm:"type:text;not null;index:ix_credit_transactions_user_id"`
	Direction    Direction      `json:"direction" gorm:"type:text;not null"`
	Amount       int64          `json:"amount" gorm:"not null;check:chk_credit_transactions_amount,amount > 0"`
	BalanceAfter int64          `json:"balance_after" gorm:"not null;check:chk_credit_transactions_balance_after,balance_after >= 0"`
	ActionType   string         `json:"action_type" gorm:"type:text;not null"`
	ReferenceID  *string        `json:"reference_id,omitempty" gorm:"type:text"`
	Description  *string        `json:"description,omitempty" gorm:"type:text"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Transaction) TableName() string { return "credit_transactions" }
