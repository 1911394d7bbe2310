package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	"github.com/smallbiznis/leadforge/pkg/db/pagination"
)

type buyCreditsRequest struct {
	Credits       int64  `json:"credits"`
	PaymentMethod string `json:"payment_method"`
}

func (s *Server) ListCreditCosts(c *gin.Context) {
	costs, err := s.pricingSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{"data": costs}
	if s.credits != nil {
		policy := s.credits.Get().Purchase
		resp["purchase"] = gin.H{
			"min_credits":           policy.MinCredits,
			"cents_per_100_credits": policy.CentsPer100Credit,
			"currency":              policy.Currency,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetCredits(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	wallet, err := s.ledgerSvc.GetWallet(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": wallet})
}

func (s *Server) ListCreditHistory(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var query struct {
		pagination.Pagination
		ActionType string `form:"action_type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		UserID:     userID,
		ActionType: strings.TrimSpace(query.ActionType),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetUsageStats(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	days, err := parseUsageDays(c.Query("days"))
	if err != nil {
		AbortWithError(c, newValidationError("days", "invalid_days", "days must be between 1 and 365"))
		return
	}

	stats, err := s.ledgerSvc.UsageStats(c.Request.Context(), userID, days)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// CheckCredits is advisory: the charge is still decided atomically when the
// action runs.
func (s *Server) CheckCredits(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	admission, err := s.metering.Admit(c.Request.Context(), userID, c.Param("action_type"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": admission})
}

func (s *Server) BuyCredits(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req buyCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Credits <= 0 {
		AbortWithError(c, newValidationError("credits", "invalid_credits", "credits must be positive"))
		return
	}

	result, err := s.billingSvc.BuyCredits(c.Request.Context(), billingdomain.BuyCreditsRequest{
		UserID:        userID,
		Credits:       req.Credits,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
