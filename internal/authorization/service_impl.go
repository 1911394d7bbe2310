package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/leadforge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewService grants the admin role to every user listed in ADMIN_USER_IDS.
// Grants made at runtime are kept; removing an id from the list does not revoke it.
func NewService(p Params) (Service, error) {
	svc := &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
	for _, userID := range p.Cfg.AdminUserIDs {
		if err := svc.GrantAdmin(context.Background(), userID); err != nil {
			return nil, fmt.Errorf("bootstrap admin %s: %w", userID, err)
		}
	}
	return svc, nil
}

func (s *ServiceImpl) Authorize(ctx context.Context, userID string, object string, action string) error {
	subject, err := subjectFor(userID)
	if err != nil {
		return err
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("user_id", strings.TrimSpace(userID)),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) GrantAdmin(ctx context.Context, userID string) error {
	subject, err := subjectFor(userID)
	if err != nil {
		return err
	}
	has, err := s.enforcer.HasGroupingPolicy(subject, RoleAdmin)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := s.enforcer.AddGroupingPolicy(subject, RoleAdmin); err != nil {
		return err
	}
	s.log.Info("admin role granted", zap.String("user_id", strings.TrimSpace(userID)))
	return nil
}

func (s *ServiceImpl) RevokeAdmin(ctx context.Context, userID string) error {
	subject, err := subjectFor(userID)
	if err != nil {
		return err
	}
	_, err = s.enforcer.RemoveGroupingPolicy(subject, RoleAdmin)
	return err
}

func (s *ServiceImpl) IsAdmin(ctx context.Context, userID string) (bool, error) {
	subject, err := subjectFor(userID)
	if err != nil {
		return false, err
	}
	return s.enforcer.HasGroupingPolicy(subject, RoleAdmin)
}

func subjectFor(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrInvalidActor
	}
	return "user:" + userID, nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleAdmin, ObjectCreditCost, ActionCreditCostUpdate},
		{RoleAdmin, ObjectCreditCost, ActionCreditCostDelete},
		{RoleAdmin, ObjectPlan, ActionPlanCreate},
		{RoleAdmin, ObjectCredits, ActionCreditsGrant},
		{RoleAdmin, ObjectAuditLog, ActionAuditLogRead},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
