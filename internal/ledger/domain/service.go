package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/leadforge/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	Debit(ctx context.Context, req DebitRequest) (*Result, error)
	Credit(ctx context.Context, req CreditRequest) (*Result, error)
	// CreditTx runs a credit inside a transaction owned by the caller.
	CreditTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (*Result, error)
	CanPerform(ctx context.Context, userID string, actionType string) (*Admission, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
	GetWallet(ctx context.Context, userID string) (*WalletSummary, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (*ListTransactionsResponse, error)
	UsageStats(ctx context.Context, userID string, days int) (*UsageStats, error)
}

type Outcome string

const (
	OutcomeExempt       Outcome = "exempt"
	OutcomeInsufficient Outcome = "insufficient"
	OutcomeCharged      Outcome = "charged"
	OutcomeCredited     Outcome = "credited"
)

type DebitRequest struct {
	UserID      string
	ActionType  string
	ReferenceID string
	Metadata    map[string]any
}

type CreditRequest struct {
	UserID      string
	Amount      int64
	ActionType  string
	ReferenceID string
	Description string
	Metadata    map[string]any
}

type RefundRequest struct {
	UserID string
	Charge *Result
	Reason string
}

// Result describes the effect of one ledger operation.
type Result struct {
	Outcome       Outcome `json:"outcome"`
	ActionType    string  `json:"action_type"`
	Amount        int64   `json:"amount"`
	Balance       int64   `json:"balance"`
	TransactionID string  `json:"transaction_id,omitempty"`
}

// Charged reports whether the result moved credits out of the wallet.
func (r *Result) Charged() bool {
	return r != nil && r.Outcome == OutcomeCharged && r.Amount > 0
}

type Admission struct {
	Allowed         bool    `json:"allowed"`
	Outcome         Outcome `json:"outcome"`
	ActionType      string  `json:"action_type"`
	CreditsRequired int64   `json:"credits_required"`
	Balance         int64   `json:"current_balance"`
	ByokActive      bool    `json:"byok_active"`
}

type WalletSummary struct {
	UserID            string     `json:"user_id"`
	Balance           int64      `json:"balance"`
	CreditsUsed       int64      `json:"credits_used"`
	IsTrial           bool       `json:"is_trial"`
	ByokEnabled       bool       `json:"byok_enabled"`
	ByokValid         bool       `json:"byok_valid"`
	KeysLastCheckedAt *time.Time `json:"keys_last_checked_at,omitempty"`
	TransactionCount  int64      `json:"transaction_count"`
	CreatedAt         time.Time  `json:"created_at"`
}

type ListTransactionsRequest struct {
	UserID     string
	ActionType string
	pagination.Pagination
}

type ListTransactionsResponse struct {
	Transactions []Transaction       `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"pagination"`
}

type ActionUsage struct {
	ActionType   string `json:"action_type"`
	Count        int64  `json:"count"`
	TotalCredits int64  `json:"total_credits"`
}

type DailyUsage struct {
	Date    string `json:"date"`
	Debits  int64  `json:"credits_used"`
	Credits int64  `json:"credits_added"`
}

type UsageStats struct {
	Days     int           `json:"days"`
	ByAction []ActionUsage `json:"by_action"`
	Daily    []DailyUsage  `json:"daily"`
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidActionType   = errors.New("invalid_action_type")
	ErrWalletNotFound      = errors.New("wallet_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrTransientStore      = errors.New("transient_store_failure")
	ErrNotRefundable       = errors.New("not_refundable")
)

// InsufficientCreditsError carries the amounts shown to the user.
type InsufficientCreditsError struct {
	ActionType string
	Required   int64
	Balance    int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient_credits: %s requires %d, balance %d", e.ActionType, e.Required, e.Balance)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// TransientError wraps a store failure that may succeed if the whole
// operation is retried.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient_store_failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool {
	return target == ErrTransientStore
}
