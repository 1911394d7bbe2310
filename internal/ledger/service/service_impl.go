package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leadforge/internal/clock"
	"github.com/smallbiznis/leadforge/internal/config"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/leadforge/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
	"github.com/smallbiznis/leadforge/pkg/db"
	"github.com/smallbiznis/leadforge/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultUsageDays = 30
	maxUsageDays     = 365
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	Pricing    pricingdomain.Service
	Cfg        config.Config
	Credits    *config.CreditConfigHolder
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          ledgerdomain.Repository
	pricing       pricingdomain.Service
	credits       *config.CreditConfigHolder
	clock         clock.Clock
	obsMetrics    *obsmetrics.Metrics
	lockTimeoutMS int
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("ledger.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		pricing:       p.Pricing,
		credits:       p.Credits,
		clock:         clk,
		obsMetrics:    p.ObsMetrics,
		lockTimeoutMS: p.Cfg.DBLockTimeoutMS,
	}
}

type walletFunc func(tx *gorm.DB, wallet *ledgerdomain.Wallet) error

func (s *Service) Debit(ctx context.Context, req ledgerdomain.DebitRequest) (*ledgerdomain.Result, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	actionType := normalizeActionType(req.ActionType)

	// Price first: an unknown action never touches the wallet.
	price, err := s.pricing.Cost(ctx, actionType)
	if err != nil {
		return nil, s.classify(err)
	}

	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	var (
		result       *ledgerdomain.Result
		insufficient *ledgerdomain.InsufficientCreditsError
	)
	err = s.mutateWallet(ctx, userID, true, func(tx *gorm.DB, wallet *ledgerdomain.Wallet) error {
		if wallet.Exempt() {
			result = &ledgerdomain.Result{
				Outcome:    ledgerdomain.OutcomeExempt,
				ActionType: actionType,
				Balance:    wallet.Balance,
			}
			return nil
		}

		if wallet.Balance < price {
			insufficient = &ledgerdomain.InsufficientCreditsError{
				ActionType: actionType,
				Required:   price,
				Balance:    wallet.Balance,
			}
			return nil
		}

		now := s.clock.Now()
		wallet.Balance -= price
		wallet.CreditsUsed += price
		wallet.UpdatedAt = now
		if err := s.repo.UpdateBalance(ctx, tx, wallet); err != nil {
			return err
		}

		txn := &ledgerdomain.Transaction{
			ID:           s.genID.Generate(),
			UserID:       userID,
			Direction:    ledgerdomain.DirectionDebit,
			Amount:       price,
			BalanceAfter: wallet.Balance,
			ActionType:   actionType,
			ReferenceID:  optionalString(req.ReferenceID),
			Description:  optionalString("Charge for " + actionType),
			Metadata:     metadata,
			CreatedAt:    now,
		}
		if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
			return err
		}

		result = &ledgerdomain.Result{
			Outcome:       ledgerdomain.OutcomeCharged,
			ActionType:    actionType,
			Amount:        price,
			Balance:       wallet.Balance,
			TransactionID: txn.ID.String(),
		}
		return nil
	})
	if err != nil {
		s.log.Warn("debit failed",
			zap.String("user_id", userID),
			zap.String("action_type", actionType),
			zap.Error(err),
		)
		return nil, err
	}

	if insufficient != nil {
		s.obsMetrics.RecordDebit(ctx, actionType, string(ledgerdomain.OutcomeInsufficient), 0)
		return nil, insufficient
	}

	s.obsMetrics.RecordDebit(ctx, actionType, string(result.Outcome), result.Amount)
	if result.Outcome == ledgerdomain.OutcomeCharged {
		s.log.Debug("credits debited",
			zap.String("user_id", userID),
			zap.String("action_type", actionType),
			zap.Int64("amount", result.Amount),
			zap.Int64("balance", result.Balance),
			zap.String("transaction_id", result.TransactionID),
		)
	}
	return result, nil
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (*ledgerdomain.Result, error) {
	req, metadata, err := normalizeCredit(req)
	if err != nil {
		return nil, err
	}

	var result *ledgerdomain.Result
	err = s.mutateWallet(ctx, req.UserID, false, func(tx *gorm.DB, wallet *ledgerdomain.Wallet) error {
		res, err := s.applyCredit(ctx, tx, wallet, req, metadata, false)
		result = res
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCredit(ctx, req, result)
	return result, nil
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.CreditRequest) (*ledgerdomain.Result, error) {
	if tx == nil {
		return s.Credit(ctx, req)
	}

	req, metadata, err := normalizeCredit(req)
	if err != nil {
		return nil, err
	}

	var result *ledgerdomain.Result
	err = s.lockedWallet(ctx, tx, req.UserID, false, func(tx *gorm.DB, wallet *ledgerdomain.Wallet) error {
		res, err := s.applyCredit(ctx, tx, wallet, req, metadata, false)
		result = res
		return err
	})
	if err != nil {
		return nil, s.classify(err)
	}

	s.afterCredit(ctx, req, result)
	return result, nil
}

// Refund returns the credits of a charged debit. Refunding the same charge
// twice yields the first refund.
func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.Result, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if !req.Charge.Charged() || strings.TrimSpace(req.Charge.TransactionID) == "" {
		return nil, ledgerdomain.ErrNotRefundable
	}

	charge := req.Charge
	metadata, err := encodeMetadata(map[string]any{
		"refunded_action": charge.ActionType,
		"reason":          strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return nil, err
	}
	creditReq := ledgerdomain.CreditRequest{
		UserID:      userID,
		Amount:      charge.Amount,
		ActionType:  ledgerdomain.ActionRefund,
		ReferenceID: charge.TransactionID,
		Description: "Refund for " + charge.ActionType,
	}

	var (
		result   *ledgerdomain.Result
		replayed bool
	)
	err = s.mutateWallet(ctx, userID, false, func(tx *gorm.DB, wallet *ledgerdomain.Wallet) error {
		existing, err := s.repo.FindRefund(ctx, tx, userID, charge.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			replayed = true
			result = &ledgerdomain.Result{
				Outcome:       ledgerdomain.OutcomeCredited,
				ActionType:    ledgerdomain.ActionRefund,
				Amount:        existing.Amount,
				Balance:       wallet.Balance,
				TransactionID: existing.ID.String(),
			}
			return nil
		}

		res, err := s.applyCredit(ctx, tx, wallet, creditReq, metadata, true)
		result = res
		return err
	})
	if err != nil {
		return nil, err
	}

	if !replayed {
		s.afterCredit(ctx, creditReq, result)
	}
	return result, nil
}

func (s *Service) CanPerform(ctx context.Context, userID string, actionType string) (*ledgerdomain.Admission, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	actionType = normalizeActionType(actionType)

	price, err := s.pricing.Cost(ctx, actionType)
	if err != nil {
		return nil, s.classify(err)
	}

	wallet, err := s.loadWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	admission := &ledgerdomain.Admission{
		ActionType:      actionType,
		CreditsRequired: price,
		Balance:         wallet.Balance,
		ByokActive:      wallet.Exempt(),
	}
	switch {
	case wallet.Exempt():
		admission.Allowed = true
		admission.Outcome = ledgerdomain.OutcomeExempt
	case wallet.Balance < price:
		admission.Allowed = false
		admission.Outcome = ledgerdomain.OutcomeInsufficient
	default:
		admission.Allowed = true
		admission.Outcome = ledgerdomain.OutcomeCharged
	}
	return admission, nil
}

func (s *Service) GetWallet(ctx context.Context, userID string) (*ledgerdomain.WalletSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}

	wallet, err := s.loadWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	count, err := s.repo.CountTransactions(ctx, s.db, userID, "")
	if err != nil {
		return nil, s.classify(err)
	}

	return &ledgerdomain.WalletSummary{
		UserID:            wallet.UserID,
		Balance:           wallet.Balance,
		CreditsUsed:       wallet.CreditsUsed,
		IsTrial:           wallet.IsTrial,
		ByokEnabled:       wallet.ByokEnabled,
		ByokValid:         wallet.ByokValid,
		KeysLastCheckedAt: wallet.KeysLastCheckedAt,
		TransactionCount:  count,
		CreatedAt:         wallet.CreatedAt,
	}, nil
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (*ledgerdomain.ListTransactionsResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	page := req.Pagination.Normalize()
	actionType := normalizeActionType(req.ActionType)

	total, err := s.repo.CountTransactions(ctx, s.db, userID, actionType)
	if err != nil {
		return nil, s.classify(err)
	}

	items, err := s.repo.ListTransactions(ctx, s.db, userID, actionType, page.Limit, page.Offset())
	if err != nil {
		return nil, s.classify(err)
	}
	if items == nil {
		items = []ledgerdomain.Transaction{}
	}

	return &ledgerdomain.ListTransactionsResponse{
		Transactions: items,
		PageInfo:     pagination.BuildPageInfo(page, total),
	}, nil
}

func (s *Service) UsageStats(ctx context.Context, userID string, days int) (*ledgerdomain.UsageStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if days <= 0 {
		days = defaultUsageDays
	}
	if days > maxUsageDays {
		days = maxUsageDays
	}

	today := truncateDay(s.clock.Now())
	since := today.AddDate(0, 0, -(days - 1))

	rows, err := s.repo.ListTransactionsSince(ctx, s.db, userID, since)
	if err != nil {
		return nil, s.classify(err)
	}

	daily := make([]ledgerdomain.DailyUsage, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := since.AddDate(0, 0, i).Format(time.DateOnly)
		daily[i] = ledgerdomain.DailyUsage{Date: date}
		index[date] = i
	}
	for _, row := range rows {
		i, ok := index[row.CreatedAt.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		if row.Direction == ledgerdomain.DirectionDebit {
			daily[i].Debits += row.Amount
		} else {
			daily[i].Credits += row.Amount
		}
	}

	return &ledgerdomain.UsageStats{
		Days:     days,
		ByAction: usageByAction(rows),
		Daily:    daily,
	}, nil
}

// usageByAction totals charges per action. A refunded charge drops out, and
// its refund is always newer, so both sit in the same window.
func usageByAction(rows []ledgerdomain.Transaction) []ledgerdomain.ActionUsage {
	refunded := make(map[string]bool)
	for _, row := range rows {
		if row.ActionType == ledgerdomain.ActionRefund && row.ReferenceID != nil {
			refunded[*row.ReferenceID] = true
		}
	}

	items := []ledgerdomain.ActionUsage{}
	index := make(map[string]int)
	for _, row := range rows {
		if row.Direction != ledgerdomain.DirectionDebit || refunded[row.ID.String()] {
			continue
		}
		i, ok := index[row.ActionType]
		if !ok {
			i = len(items)
			index[row.ActionType] = i
			items = append(items, ledgerdomain.ActionUsage{ActionType: row.ActionType})
		}
		items[i].Count++
		items[i].TotalCredits += row.Amount
	}

	sort.Slice(items, func(a, b int) bool {
		if items[a].TotalCredits != items[b].TotalCredits {
			return items[a].TotalCredits > items[b].TotalCredits
		}
		return items[a].ActionType < items[b].ActionType
	})
	return items
}

// mutateWallet runs fn on the locked wallet inside its own transaction.
func (s *Service) mutateWallet(ctx context.Context, userID string, create bool, fn walletFunc) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.lockedWallet(ctx, tx, userID, create, fn)
	})
	return s.classify(err)
}

// lockedWallet locks the wallet row on tx, creating it first when create is
// set, and hands it to fn. The lock is held until tx ends.
func (s *Service) lockedWallet(ctx context.Context, tx *gorm.DB, userID string, create bool, fn walletFunc) error {
	if err := db.SetLockTimeout(ctx, tx, s.lockTimeoutMS); err != nil {
		return err
	}
	if create {
		if _, err := s.ensureWallet(ctx, tx, userID); err != nil {
			return err
		}
	}

	wallet, err := s.repo.LockWallet(ctx, tx, userID)
	if err != nil {
		return err
	}
	if wallet == nil {
		return ledgerdomain.ErrWalletNotFound
	}
	return fn(tx, wallet)
}

// ensureWallet inserts the wallet with its trial grant. Only the caller that
// wins the insert writes the trial transaction.
func (s *Service) ensureWallet(ctx context.Context, tx *gorm.DB, userID string) (bool, error) {
	now := s.clock.Now()
	grant := s.credits.Get().TrialGrant
	if grant < 0 {
		grant = 0
	}

	inserted, err := s.repo.InsertWallet(ctx, tx, &ledgerdomain.Wallet{
		UserID:       userID,
		Balance:      grant,
		IsTrial:      true,
		TrialGranted: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil || !inserted {
		return false, err
	}
	if grant == 0 {
		return true, nil
	}

	if err := s.repo.InsertTransaction(ctx, tx, &ledgerdomain.Transaction{
		ID:           s.genID.Generate(),
		UserID:       userID,
		Direction:    ledgerdomain.DirectionCredit,
		Amount:       grant,
		BalanceAfter: grant,
		ActionType:   ledgerdomain.ActionTrial,
		Description:  optionalString("Free trial credits"),
		CreatedAt:    now,
	}); err != nil {
		return false, err
	}

	s.log.Info("wallet created", zap.String("user_id", userID), zap.Int64("trial_grant", grant))
	return true, nil
}

func (s *Service) loadWallet(ctx context.Context, userID string) (*ledgerdomain.Wallet, error) {
	wallet, err := s.repo.FindWallet(ctx, s.db, userID)
	if err != nil {
		return nil, s.classify(err)
	}
	if wallet != nil {
		return wallet, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.ensureWallet(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, s.classify(err)
	}

	wallet, err = s.repo.FindWallet(ctx, s.db, userID)
	if err != nil {
		return nil, s.classify(err)
	}
	if wallet == nil {
		return nil, ledgerdomain.ErrWalletNotFound
	}
	return wallet, nil
}

func (s *Service) applyCredit(
	ctx context.Context,
	tx *gorm.DB,
	wallet *ledgerdomain.Wallet,
	req ledgerdomain.CreditRequest,
	metadata datatypes.JSON,
	refund bool,
) (*ledgerdomain.Result, error) {
	if wallet.Balance > math.MaxInt64-req.Amount {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	now := s.clock.Now()
	wallet.Balance += req.Amount
	wallet.UpdatedAt = now
	if refund {
		wallet.CreditsUsed -= req.Amount
		if wallet.CreditsUsed < 0 {
			wallet.CreditsUsed = 0
		}
	} else {
		wallet.IsTrial = false
	}
	if err := s.repo.UpdateBalance(ctx, tx, wallet); err != nil {
		return nil, err
	}

	txn := &ledgerdomain.Transaction{
		ID:           s.genID.Generate(),
		UserID:       wallet.UserID,
		Direction:    ledgerdomain.DirectionCredit,
		Amount:       req.Amount,
		BalanceAfter: wallet.Balance,
		ActionType:   req.ActionType,
		ReferenceID:  optionalString(req.ReferenceID),
		Description:  optionalString(req.Description),
		Metadata:     metadata,
		CreatedAt:    now,
	}
	if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}

	return &ledgerdomain.Result{
		Outcome:       ledgerdomain.OutcomeCredited,
		ActionType:    req.ActionType,
		Amount:        req.Amount,
		Balance:       wallet.Balance,
		TransactionID: txn.ID.String(),
	}, nil
}

func (s *Service) afterCredit(ctx context.Context, req ledgerdomain.CreditRequest, result *ledgerdomain.Result) {
	s.obsMetrics.RecordCredit(ctx, req.ActionType, req.Amount)
	s.log.Info("credits added",
		zap.String("user_id", req.UserID),
		zap.String("action_type", req.ActionType),
		zap.Int64("amount", req.Amount),
		zap.Int64("balance", result.Balance),
		zap.String("transaction_id", result.TransactionID),
	)
}

// classify marks store failures that a caller may retry as a whole.
func (s *Service) classify(err error) error {
	if err == nil {
		return nil
	}
	var transient *ledgerdomain.TransientError
	if errors.As(err, &transient) {
		return err
	}
	if db.IsTransientErr(err) {
		return &ledgerdomain.TransientError{Err: err}
	}
	return err
}

func normalizeCredit(req ledgerdomain.CreditRequest) (ledgerdomain.CreditRequest, datatypes.JSON, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return req, nil, ledgerdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return req, nil, ledgerdomain.ErrInvalidAmount
	}
	req.ActionType = normalizeActionType(req.ActionType)
	if req.ActionType == "" {
		return req, nil, ledgerdomain.ErrInvalidActionType
	}
	req.Description = strings.TrimSpace(req.Description)

	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return req, nil, err
	}
	return req, metadata, nil
}

func encodeMetadata(values map[string]any) (datatypes.JSON, error) {
	if len(values) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func normalizeActionType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
