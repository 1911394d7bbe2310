package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	"github.com/smallbiznis/leadforge/pkg/db/pagination"
)

type subscribeRequest struct {
	PlanSlug      string `json:"plan_slug"`
	PaymentMethod string `json:"payment_method"`
}

type cancelSubscriptionRequest struct {
	AtPeriodEnd *bool `json:"at_period_end"`
}

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.billingSvc.ListPlans(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) GetPlan(c *gin.Context) {
	plan, err := s.billingSvc.GetPlan(c.Request.Context(), strings.TrimSpace(c.Param("slug")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) GetSubscription(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	sub, err := s.billingSvc.GetActiveSubscription(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// No subscription is a normal state for trial users.
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) Subscribe(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.PlanSlug) == "" {
		AbortWithError(c, newValidationError("plan_slug", "required", "plan_slug is required"))
		return
	}

	result, err := s.billingSvc.Subscribe(c.Request.Context(), billingdomain.SubscribeRequest{
		UserID:        userID,
		PlanSlug:      strings.TrimSpace(req.PlanSlug),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req cancelSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	atPeriodEnd := true
	if req.AtPeriodEnd != nil {
		atPeriodEnd = *req.AtPeriodEnd
	}

	sub, err := s.billingSvc.Cancel(c.Request.Context(), userID, atPeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ListPayments(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.billingSvc.ListPayments(c.Request.Context(), billingdomain.ListPaymentsRequest{
		UserID:     userID,
		Pagination: query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DownloadReceipt(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	paymentID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid payment id"))
		return
	}

	pdf, err := s.billingSvc.Receipt(c.Request.Context(), userID, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="receipt-%s.pdf"`, paymentID.String()))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
