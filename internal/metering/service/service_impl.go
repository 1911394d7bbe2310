package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	meteringdomain "github.com/smallbiznis/leadforge/internal/metering/domain"
	obsmetrics "github.com/smallbiznis/leadforge/internal/observability/metrics"
	providerdomain "github.com/smallbiznis/leadforge/internal/providers/domain"
	"github.com/smallbiznis/leadforge/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	Byok       byokdomain.Service
	Limiter    *ratelimit.ActionLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	ledger     ledgerdomain.Service
	byok       byokdomain.Service
	limiter    *ratelimit.ActionLimiter
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) meteringdomain.Service {
	return &Service{
		log:        p.Log.Named("metering.service"),
		ledger:     p.Ledger,
		byok:       p.Byok,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
}

// Run charges before the provider call and compensates with a refund when
// the call fails.
func (s *Service) Run(ctx context.Context, req meteringdomain.ActionRequest, call meteringdomain.CallFunc) (*meteringdomain.Outcome, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" || strings.TrimSpace(req.ActionType) == "" || call == nil {
		return nil, meteringdomain.ErrInvalidRequest
	}
	if _, ok := byokdomain.ParseProvider(string(req.Provider)); !ok {
		return nil, meteringdomain.ErrInvalidRequest
	}

	if err := s.admitRate(ctx, userID, req.ActionType); err != nil {
		return nil, err
	}

	charge, err := s.ledger.Debit(ctx, ledgerdomain.DebitRequest{
		UserID:      userID,
		ActionType:  req.ActionType,
		ReferenceID: req.ReferenceID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	// Debit and Resolve read the BYOK flags in separate transactions, so the
	// flags can flip in between. The credential follows what the debit billed.
	credential := s.byok.Resolve(ctx, userID, req.Provider)
	switch {
	case charge.Outcome == ledgerdomain.OutcomeCharged && credential.UserSupplied:
		credential = s.byok.System(req.Provider)
	case charge.Outcome == ledgerdomain.OutcomeExempt && !credential.UserSupplied:
		s.log.Warn("byok switched off after exempt debit",
			zap.String("user_id", userID),
			zap.String("action_type", req.ActionType),
		)
		return &meteringdomain.Outcome{Charge: charge, CredentialSource: credential.Source()}, meteringdomain.ErrCredentialUnavailable
	}
	outcome := &meteringdomain.Outcome{
		Charge:           charge,
		CredentialSource: credential.Source(),
	}

	callErr := call(ctx, credential)
	if callErr == nil {
		s.obsMetrics.RecordProviderCall(ctx, string(req.Provider), credential.Source(), "ok")
		return outcome, nil
	}

	if providerdomain.IsUnauthorized(callErr) && credential.UserSupplied {
		s.obsMetrics.RecordProviderCall(ctx, string(req.Provider), credential.Source(), "unauthorized")
		if err := s.byok.Invalidate(context.WithoutCancel(ctx), userID); err != nil {
			s.log.Error("failed to invalidate rejected user credential",
				zap.String("user_id", userID),
				zap.String("provider", string(req.Provider)),
				zap.Error(err),
			)
		}
		s.refund(ctx, userID, outcome, "credential rejected by provider")
		return outcome, fmt.Errorf("%w: %w", meteringdomain.ErrCredentialInvalid, callErr)
	}

	s.obsMetrics.RecordProviderCall(ctx, string(req.Provider), credential.Source(), "failed")
	s.refund(ctx, userID, outcome, "provider call failed")
	return outcome, callErr
}

func (s *Service) Admit(ctx context.Context, userID string, actionType string) (*ledgerdomain.Admission, error) {
	return s.ledger.CanPerform(ctx, userID, actionType)
}

// admitRate fails open when redis itself is unavailable.
func (s *Service) admitRate(ctx context.Context, userID, actionType string) error {
	if !s.limiter.Enabled() {
		return nil
	}
	err := s.limiter.Allow(ctx, userID, actionType)
	switch {
	case err == nil:
		s.obsMetrics.RecordRateLimitAllowed(ctx, actionType)
		return nil
	case errors.Is(err, ratelimit.ErrRateLimited):
		s.obsMetrics.RecordRateLimitDenied(ctx, actionType, "bucket_empty")
		return err
	default:
		s.obsMetrics.RecordRateLimitDenied(ctx, actionType, "limiter_error")
		s.log.Warn("rate limiter unavailable, allowing action",
			zap.String("action_type", actionType),
			zap.Error(err),
		)
		return nil
	}
}

func (s *Service) refund(ctx context.Context, userID string, outcome *meteringdomain.Outcome, reason string) {
	if !outcome.Charge.Charged() {
		return
	}
	if _, err := s.ledger.Refund(context.WithoutCancel(ctx), ledgerdomain.RefundRequest{
		UserID: userID,
		Charge: outcome.Charge,
		Reason: reason,
	}); err != nil {
		s.log.Error("failed to refund charge",
			zap.String("user_id", userID),
			zap.String("transaction_id", outcome.Charge.TransactionID),
			zap.Error(err),
		)
		return
	}
	outcome.Refunded = true
}
