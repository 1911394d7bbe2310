package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/leadforge/internal/audit/domain"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	"github.com/smallbiznis/leadforge/internal/observability/logger"
	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
	"go.uber.org/zap"
)

type upsertCreditCostRequest struct {
	CreditsRequired int64  `json:"credits_required"`
	Description     string `json:"description"`
}

type grantCreditsRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

func (s *Server) UpsertCreditCost(c *gin.Context) {
	var req upsertCreditCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cost, err := s.pricingSvc.Upsert(c.Request.Context(), pricingdomain.UpsertRequest{
		ActionType:      strings.TrimSpace(c.Param("action_type")),
		CreditsRequired: req.CreditsRequired,
		Description:     strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdmin(c, "credit_cost.update", "credit_cost", cost.ActionType, map[string]any{
		"credits_required": cost.CreditsRequired,
	})
	c.JSON(http.StatusOK, gin.H{"data": cost})
}

func (s *Server) DeactivateCreditCost(c *gin.Context) {
	actionType := strings.TrimSpace(c.Param("action_type"))
	if err := s.pricingSvc.Deactivate(c.Request.Context(), actionType); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdmin(c, "credit_cost.delete", "credit_cost", actionType, nil)
	c.Status(http.StatusNoContent)
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req billingdomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.billingSvc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdmin(c, "plan.create", "plan", plan.Slug, map[string]any{
		"credits":     plan.Credits,
		"price_cents": plan.PriceCents,
	})
	c.JSON(http.StatusCreated, gin.H{"data": plan})
}

// GrantCredits adds credits to any wallet, creating it with the trial grant
// when the user has never been seen.
func (s *Server) GrantCredits(c *gin.Context) {
	adminID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req grantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "required", "user_id is required"))
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be positive"))
		return
	}

	ctx := c.Request.Context()
	if _, err := s.ledgerSvc.GetWallet(ctx, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Credits granted by administrator"
	}
	result, err := s.ledgerSvc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:      userID,
		Amount:      req.Amount,
		ActionType:  ledgerdomain.ActionAdminGrant,
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		Description: description,
		Metadata:    map[string]any{"granted_by": adminID},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdmin(c, "credits.grant", "wallet", userID, map[string]any{
		"amount":      req.Amount,
		"description": description,
	})
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) auditAdmin(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	adminID, _ := userIDFromContext(c)
	logger.FromContext(c.Request.Context()).Info("admin action",
		zap.String("action", action),
		zap.String("admin_id", adminID),
		zap.String("target_id", targetID),
	)
	s.recordAudit(c, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeAdmin,
		ActorID:    adminID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	})
}
