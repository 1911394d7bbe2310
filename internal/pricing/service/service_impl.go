package service

import (
	"context"
	"strings"
	"time"

	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo pricingdomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo pricingdomain.Repository
}

func New(p Params) pricingdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("pricing.service"),
		repo: p.Repo,
	}
}

func (s *Service) Cost(ctx context.Context, actionType string) (int64, error) {
	actionType = normalizeActionType(actionType)
	if actionType == "" {
		return 0, pricingdomain.ErrUnknownAction
	}

	cost, err := s.repo.FindActive(ctx, s.db, actionType)
	if err != nil {
		return 0, err
	}
	if cost == nil {
		return 0, pricingdomain.ErrUnknownAction
	}
	return cost.CreditsRequired, nil
}

func (s *Service) List(ctx context.Context) ([]pricingdomain.CreditCost, error) {
	items, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []pricingdomain.CreditCost{}
	}
	return items, nil
}

func (s *Service) Upsert(ctx context.Context, req pricingdomain.UpsertRequest) (*pricingdomain.CreditCost, error) {
	actionType := normalizeActionType(req.ActionType)
	if actionType == "" {
		return nil, pricingdomain.ErrInvalidActionType
	}
	if req.CreditsRequired <= 0 {
		return nil, pricingdomain.ErrInvalidCredits
	}

	now := time.Now().UTC()
	entity := &pricingdomain.CreditCost{
		ActionType:      actionType,
		CreditsRequired: req.CreditsRequired,
		Description:     strings.TrimSpace(req.Description),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Upsert(ctx, s.db, entity); err != nil {
		return nil, err
	}

	s.log.Info("credit cost updated",
		zap.String("action_type", actionType),
		zap.Int64("credits_required", req.CreditsRequired),
	)

	stored, err := s.repo.FindActive(ctx, s.db, actionType)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return entity, nil
	}
	return stored, nil
}

func (s *Service) Deactivate(ctx context.Context, actionType string) error {
	actionType = normalizeActionType(actionType)
	if actionType == "" {
		return pricingdomain.ErrInvalidActionType
	}

	affected, err := s.repo.Deactivate(ctx, s.db, actionType, time.Now().UTC())
	if err != nil {
		return err
	}
	if affected == 0 {
		return pricingdomain.ErrUnknownAction
	}

	s.log.Info("credit cost deactivated", zap.String("action_type", actionType))
	return nil
}

// SeedDefaults inserts configured costs that are not stored yet. Existing
// rows are left alone so admin edits survive restarts.
func (s *Service) SeedDefaults(ctx context.Context, defaults []pricingdomain.SeedCost) (int, error) {
	inserted := 0
	now := time.Now().UTC()
	for _, item := range defaults {
		actionType := normalizeActionType(item.ActionType)
		if actionType == "" || item.Credits <= 0 {
			continue
		}
		ok, err := s.repo.InsertIfMissing(ctx, s.db, &pricingdomain.CreditCost{
			ActionType:      actionType,
			CreditsRequired: item.Credits,
			Description:     strings.TrimSpace(item.Description),
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func normalizeActionType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
