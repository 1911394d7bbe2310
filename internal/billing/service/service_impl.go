package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	"github.com/smallbiznis/leadforge/internal/clock"
	"github.com/smallbiznis/leadforge/internal/config"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	"github.com/smallbiznis/leadforge/internal/providers/pdf"
	"github.com/smallbiznis/leadforge/pkg/db"
	"github.com/smallbiznis/leadforge/pkg/db/option"
	"github.com/smallbiznis/leadforge/pkg/db/pagination"
	"github.com/smallbiznis/leadforge/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPaymentMethod = "card"
	defaultRenewalBatch  = 50
	receiptIssuer        = "Leadforge"
)

var planSortColumns = map[string]bool{"sort_order": true}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    billingdomain.Repository
	Ledger  ledgerdomain.Service
	Credits *config.CreditConfigHolder
	PDF     pdf.Provider
	Clock   clock.Clock `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      billingdomain.Repository
	planStore repository.Repository[billingdomain.Plan]
	ledger    ledgerdomain.Service
	credits   *config.CreditConfigHolder
	pdf       pdf.Provider
	clock     clock.Clock
}

func New(p Params) billingdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("billing.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		planStore: repository.ProvideStore[billingdomain.Plan](p.DB),
		ledger:    p.Ledger,
		credits:   p.Credits,
		pdf:       p.PDF,
		clock:     clk,
	}
}

func (s *Service) ListPlans(ctx context.Context) ([]billingdomain.Plan, error) {
	rows, err := s.planStore.Find(ctx,
		&billingdomain.Plan{IsActive: true},
		option.OrderBy("sort_order", false, planSortColumns),
	)
	if err != nil {
		return nil, err
	}
	plans := make([]billingdomain.Plan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, *row)
	}
	return plans, nil
}

func (s *Service) GetPlan(ctx context.Context, planSlug string) (*billingdomain.Plan, error) {
	planSlug = strings.ToLower(strings.TrimSpace(planSlug))
	if planSlug == "" {
		return nil, billingdomain.ErrPlanNotFound
	}
	plan, err := s.planStore.FindOne(ctx, &billingdomain.Plan{Slug: planSlug, IsActive: true})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, billingdomain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) CreatePlan(ctx context.Context, req billingdomain.CreatePlanRequest) (*billingdomain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.Credits <= 0 || req.PriceCents < 0 {
		return nil, billingdomain.ErrInvalidPlan
	}
	period := req.BillingPeriod
	if period == "" {
		period = billingdomain.PeriodMonthly
	}
	if !period.Valid() {
		return nil, billingdomain.ErrInvalidPlan
	}

	planSlug := slug.Make(strings.TrimSpace(req.Slug))
	if planSlug == "" {
		planSlug = slug.Make(name)
	}
	if planSlug == "" {
		return nil, billingdomain.ErrInvalidPlan
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.credits.Get().Purchase.Currency
	}

	features, err := json.Marshal(nonNilStrings(req.Features))
	if err != nil {
		return nil, err
	}

	existing, err := s.planStore.FindOne(ctx, &billingdomain.Plan{Slug: planSlug})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, billingdomain.ErrPlanSlugTaken
	}

	now := s.clock.Now()
	plan := &billingdomain.Plan{
		ID:            s.genID.Generate(),
		Slug:          planSlug,
		Name:          name,
		Description:   strings.TrimSpace(req.Description),
		Credits:       req.Credits,
		PriceCents:    req.PriceCents,
		Currency:      currency,
		BillingPeriod: period,
		Features:      datatypes.JSON(features),
		SortOrder:     req.SortOrder,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.planStore.Create(ctx, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, billingdomain.ErrPlanSlugTaken
		}
		return nil, err
	}

	s.log.Info("plan created", zap.String("slug", plan.Slug), zap.Int64("credits", plan.Credits))
	return plan, nil
}

func (s *Service) GetActiveSubscription(ctx context.Context, userID string) (*billingdomain.SubscriptionView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, billingdomain.ErrInvalidUser
	}

	sub, err := s.repo.FindActiveSubscription(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}

	view := &billingdomain.SubscriptionView{Subscription: *sub}
	plan, err := s.planStore.FindOne(ctx, &billingdomain.Plan{ID: sub.PlanID})
	if err != nil {
		return nil, err
	}
	if plan != nil {
		view.PlanName = plan.Name
		view.PlanSlug = plan.Slug
		view.PlanCredits = plan.Credits
		view.PlanPrice = plan.PriceCents
		view.PlanCurrency = plan.Currency
	}
	return view, nil
}

// Subscribe replaces any active subscription and grants the plan credits in
// the same transaction as the subscription and payment rows.
func (s *Service) Subscribe(ctx context.Context, req billingdomain.SubscribeRequest) (*billingdomain.SubscribeResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, billingdomain.ErrInvalidUser
	}
	plan, err := s.GetPlan(ctx, req.PlanSlug)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.GetWallet(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sub := &billingdomain.Subscription{
		ID:                 s.genID.Generate(),
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             billingdomain.SubscriptionActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.BillingPeriod.Next(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	payment, err := s.newPayment(userID, billingdomain.PaymentSubscription, plan, &sub.ID, req.PaymentMethod, now)
	if err != nil {
		return nil, err
	}
	payment.Description = fmt.Sprintf("%s plan subscription", plan.Name)

	var credit *ledgerdomain.Result
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.CancelActiveSubscriptions(ctx, tx, userID, now); err != nil {
			return err
		}
		if err := s.repo.InsertSubscription(ctx, tx, sub); err != nil {
			return err
		}
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}
		res, err := s.ledger.CreditTx(ctx, tx, ledgerdomain.CreditRequest{
			UserID:      userID,
			Amount:      plan.Credits,
			ActionType:  ledgerdomain.ActionSubscription,
			ReferenceID: payment.ID.String(),
			Description: fmt.Sprintf("%s plan subscription - %d credits", plan.Name, plan.Credits),
			Metadata:    map[string]any{"plan": plan.Slug, "subscription_id": sub.ID.String()},
		})
		credit = res
		return err
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, billingdomain.ErrSubscriptionConflict
		}
		return nil, err
	}

	s.log.Info("subscription started",
		zap.String("user_id", userID),
		zap.String("plan", plan.Slug),
		zap.String("subscription_id", sub.ID.String()),
	)
	return &billingdomain.SubscribeResult{
		Subscription: sub,
		Payment:      payment,
		CreditsAdded: plan.Credits,
		Credit:       credit,
	}, nil
}

func (s *Service) Cancel(ctx context.Context, userID string, atPeriodEnd bool) (*billingdomain.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, billingdomain.ErrInvalidUser
	}

	now := s.clock.Now()
	var cancelled *billingdomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindActiveSubscription(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return billingdomain.ErrNoActiveSubscription
		}

		if atPeriodEnd {
			if _, err := s.repo.ScheduleCancellation(ctx, tx, userID, now); err != nil {
				return err
			}
			sub.CancelAtPeriodEnd = true
		} else {
			if _, err := s.repo.CancelActiveSubscriptions(ctx, tx, userID, now); err != nil {
				return err
			}
			sub.Status = billingdomain.SubscriptionCancelled
			sub.CancelledAt = &now
		}
		sub.UpdatedAt = now
		cancelled = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (s *Service) ListPayments(ctx context.Context, req billingdomain.ListPaymentsRequest) (*billingdomain.ListPaymentsResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, billingdomain.ErrInvalidUser
	}
	page := req.Pagination.Normalize()

	total, err := s.repo.CountPayments(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListPayments(ctx, s.db, userID, page.Limit, page.Offset())
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []billingdomain.PaymentView{}
	}
	return &billingdomain.ListPaymentsResponse{
		Payments: rows,
		PageInfo: pagination.BuildPageInfo(page, total),
	}, nil
}

// BuyCredits records a one-off purchase priced by the credit config.
func (s *Service) BuyCredits(ctx context.Context, req billingdomain.BuyCreditsRequest) (*billingdomain.PurchaseResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, billingdomain.ErrInvalidUser
	}
	policy := s.credits.Get().Purchase
	if req.Credits < policy.MinCredits {
		return nil, billingdomain.ErrPurchaseBelowMinimum
	}
	if policy.MaxCredits > 0 && req.Credits > policy.MaxCredits {
		return nil, billingdomain.ErrPurchaseAboveMaximum
	}
	if _, err := s.ledger.GetWallet(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	metadata, err := json.Marshal(map[string]any{"credits": req.Credits})
	if err != nil {
		return nil, err
	}
	payment := &billingdomain.Payment{
		ID:            s.genID.Generate(),
		UserID:        userID,
		Kind:          billingdomain.PaymentPurchase,
		AmountCents:   PurchasePriceCents(req.Credits, policy.CentsPer100Credit),
		Currency:      policy.Currency,
		Credits:       req.Credits,
		Status:        billingdomain.PaymentCompleted,
		PaymentMethod: paymentMethod(req.PaymentMethod),
		Description:   fmt.Sprintf("Purchased %d credits", req.Credits),
		Metadata:      datatypes.JSON(metadata),
		CreatedAt:     now,
	}

	var credit *ledgerdomain.Result
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}
		res, err := s.ledger.CreditTx(ctx, tx, ledgerdomain.CreditRequest{
			UserID:      userID,
			Amount:      req.Credits,
			ActionType:  ledgerdomain.ActionPurchase,
			ReferenceID: payment.ID.String(),
			Description: payment.Description,
		})
		credit = res
		return err
	})
	if err != nil {
		return nil, err
	}

	return &billingdomain.PurchaseResult{Payment: payment, Credit: credit}, nil
}

func (s *Service) Receipt(ctx context.Context, userID string, paymentID snowflake.ID) ([]byte, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, billingdomain.ErrInvalidUser
	}
	payment, err := s.repo.FindPayment(ctx, s.db, userID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, billingdomain.ErrPaymentNotFound
	}

	description := payment.Description
	if payment.PlanID != nil {
		plan, err := s.planStore.FindOne(ctx, &billingdomain.Plan{ID: *payment.PlanID})
		if err != nil {
			return nil, err
		}
		if plan != nil && description == "" {
			description = plan.Name + " plan"
		}
	}

	total := FormatAmount(payment.AmountCents, payment.Currency)
	return s.pdf.RenderReceipt(ctx, pdf.ReceiptData{
		ReceiptNumber: payment.ID.String(),
		IssuerName:    receiptIssuer,
		CustomerID:    payment.UserID,
		DatePaid:      payment.CreatedAt.UTC().Format("2006-01-02"),
		PaymentMethod: payment.PaymentMethod,
		Status:        payment.Status,
		Items: []pdf.ReceiptItem{{
			Description: description,
			Credits:     strconv.FormatInt(payment.Credits, 10),
			Amount:      total,
		}},
		Total: total,
	})
}

func (s *Service) RenewDue(ctx context.Context, now time.Time, limit int) (*billingdomain.RenewalSummary, error) {
	if limit <= 0 {
		limit = defaultRenewalBatch
	}
	due, err := s.repo.ListDueSubscriptions(ctx, s.db, now, limit)
	if err != nil {
		return nil, err
	}

	summary := &billingdomain.RenewalSummary{Scanned: len(due)}
	for _, sub := range due {
		expired, err := s.renewOne(ctx, sub, now)
		switch {
		case err != nil:
			summary.Failed++
			s.log.Error("subscription renewal failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("user_id", sub.UserID),
				zap.Error(err),
			)
		case expired:
			summary.Expired++
		default:
			summary.Renewed++
		}
	}
	return summary, nil
}

func (s *Service) renewOne(ctx context.Context, sub billingdomain.Subscription, now time.Time) (bool, error) {
	plan, err := s.planStore.FindOne(ctx, &billingdomain.Plan{ID: sub.PlanID})
	if err != nil {
		return false, err
	}
	if sub.CancelAtPeriodEnd || plan == nil || !plan.IsActive {
		return true, s.repo.ExpireSubscription(ctx, s.db, sub.ID, now)
	}
	if _, err := s.ledger.GetWallet(ctx, sub.UserID); err != nil {
		return false, err
	}

	start := sub.CurrentPeriodEnd
	end := plan.BillingPeriod.Next(start)
	payment, err := s.newPayment(sub.UserID, billingdomain.PaymentRenewal, plan, &sub.ID, defaultPaymentMethod, now)
	if err != nil {
		return false, err
	}
	payment.Description = fmt.Sprintf("%s plan renewal", plan.Name)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockSubscription(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		// Another scheduler instance renewed it first.
		if locked == nil || locked.Status != billingdomain.SubscriptionActive || !locked.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd) {
			return errAlreadyRenewed
		}
		if err := s.repo.AdvancePeriod(ctx, tx, sub.ID, start, end, now); err != nil {
			return err
		}
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}
		_, err = s.ledger.CreditTx(ctx, tx, ledgerdomain.CreditRequest{
			UserID:      sub.UserID,
			Amount:      plan.Credits,
			ActionType:  ledgerdomain.ActionRenewal,
			ReferenceID: payment.ID.String(),
			Description: fmt.Sprintf("%s plan renewal - %d credits", plan.Name, plan.Credits),
			Metadata:    map[string]any{"plan": plan.Slug, "subscription_id": sub.ID.String()},
		})
		return err
	})
	if errors.Is(err, errAlreadyRenewed) {
		return false, nil
	}
	return false, err
}

var errAlreadyRenewed = errors.New("already_renewed")

func (s *Service) newPayment(
	userID string,
	kind billingdomain.PaymentKind,
	plan *billingdomain.Plan,
	subscriptionID *snowflake.ID,
	method string,
	now time.Time,
) (*billingdomain.Payment, error) {
	metadata, err := json.Marshal(map[string]any{"plan": plan.Slug})
	if err != nil {
		return nil, err
	}
	planID := plan.ID
	return &billingdomain.Payment{
		ID:             s.genID.Generate(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		PlanID:         &planID,
		Kind:           kind,
		AmountCents:    plan.PriceCents,
		Currency:       plan.Currency,
		Credits:        plan.Credits,
		Status:         billingdomain.PaymentCompleted,
		PaymentMethod:  paymentMethod(method),
		Metadata:       datatypes.JSON(metadata),
		CreatedAt:      now,
	}, nil
}

// PurchasePriceCents rounds partial hundreds up.
func PurchasePriceCents(credits, centsPer100 int64) int64 {
	return (credits/100)*centsPer100 + ((credits%100)*centsPer100+99)/100
}

// FormatAmount renders minor units as "USD 49.00".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", strings.ToUpper(currency), sign, cents/100, cents%100)
}

func paymentMethod(method string) string {
	method = strings.TrimSpace(method)
	if method == "" {
		return defaultPaymentMethod
	}
	return method
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
