package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	meteringdomain "github.com/smallbiznis/leadforge/internal/metering/domain"
	"github.com/smallbiznis/leadforge/internal/observability/logger"
	providerdomain "github.com/smallbiznis/leadforge/internal/providers/domain"
	"github.com/smallbiznis/leadforge/internal/providers/openai"
	"github.com/smallbiznis/leadforge/internal/providers/places"
	"go.uber.org/zap"
)

const (
	actionGeocode    = "geocode"
	actionPlaces     = "google_search"
	actionProposal   = "ai_proposal"
	actionEmail      = "ai_email"
	actionFollowUp   = "ai_follow_up"
	actionCustom     = "ai_custom"
	maxCustomPrompt  = 8000
	defaultEmailSubj = "Following up"
)

type actionMeta struct {
	CreditsUsed      int64  `json:"credits_used"`
	CredentialSource string `json:"credential_source"`
	BalanceAfter     *int64 `json:"balance_after,omitempty"`
}

type generatedText struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

type generatedEmail struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Model   string `json:"model"`
}

type customPromptRequest struct {
	Prompt string `json:"prompt"`
}

func newActionMeta(outcome *meteringdomain.Outcome) actionMeta {
	meta := actionMeta{
		CreditsUsed:      outcome.CreditsUsed(),
		CredentialSource: outcome.CredentialSource,
	}
	if outcome.Charge != nil {
		balance := outcome.Charge.Balance
		meta.BalanceAfter = &balance
	}
	return meta
}

func (s *Server) NearbySearch(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req places.NearbyRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if field := req.MissingField(); field != "" {
		AbortWithError(c, newValidationError(field, "required", field+" is required"))
		return
	}

	var result json.RawMessage
	outcome, err := s.metering.Run(c.Request.Context(), meteringdomain.ActionRequest{
		UserID:     userID,
		ActionType: actionPlaces,
		Provider:   byokdomain.ProviderPlaces,
		Metadata: map[string]any{
			"location": req.Location,
			"keyword":  req.Keyword,
			"type":     req.Type,
		},
	}, func(ctx context.Context, cred byokdomain.Resolution) error {
		raw, err := s.places.Nearby(ctx, cred.Credential, req)
		if err != nil {
			return err
		}
		result = raw
		return nil
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result, "meta": newActionMeta(outcome)})
}

// PlaceDetails is free. It still honors the user's key so a rejected key
// switches the user back to credits.
func (s *Server) PlaceDetails(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req places.DetailsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.PlaceID) == "" {
		AbortWithError(c, newValidationError("place_id", "required", "place_id is required"))
		return
	}

	ctx := c.Request.Context()
	cred := s.byokSvc.Resolve(ctx, userID, byokdomain.ProviderPlaces)
	result, err := s.places.Details(ctx, cred.Credential, req)
	if err != nil {
		if cred.UserSupplied && providerdomain.IsUnauthorized(err) {
			if invErr := s.byokSvc.Invalidate(context.WithoutCancel(ctx), userID); invErr != nil {
				logger.FromContext(ctx).Error("failed to invalidate rejected user credential", zap.Error(invErr))
			}
			err = errors.Join(meteringdomain.ErrCredentialInvalid, err)
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": result,
		"meta": actionMeta{CreditsUsed: 0, CredentialSource: cred.Source()},
	})
}

// Geocode is public and always runs on the system key.
func (s *Server) Geocode(c *gin.Context) {
	address := strings.TrimSpace(c.Query("address"))
	if address == "" {
		AbortWithError(c, newValidationError("address", "required", "address is required"))
		return
	}

	result, err := s.places.Geocode(c.Request.Context(), s.cfg.PlacesAPIKey, address)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GenerateProposal(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req openai.ProposalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.BusinessName) == "" && strings.TrimSpace(req.CustomPrompt) == "" {
		AbortWithError(c, newValidationError("business_name", "required", "business_name is required"))
		return
	}

	completion, outcome, err := s.generate(c.Request.Context(), userID, actionProposal,
		map[string]any{"business_name": req.BusinessName},
		openai.ProposalMessages(req),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": generatedText{Content: completion.Content, Model: completion.Model},
		"meta": newActionMeta(outcome),
	})
}

func (s *Server) GenerateEmail(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req openai.EmailInput
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.BusinessName) == "" {
		AbortWithError(c, newValidationError("business_name", "required", "business_name is required"))
		return
	}
	if req.EmailType == "" {
		req.EmailType = openai.EmailIntroduction
	}

	actionType := actionEmail
	if req.EmailType == openai.EmailFollowUp {
		actionType = actionFollowUp
	}

	completion, outcome, err := s.generate(c.Request.Context(), userID, actionType,
		map[string]any{"business_name": req.BusinessName, "email_type": req.EmailType},
		openai.EmailMessages(req),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	fallback := strings.TrimSpace(req.Subject)
	if fallback == "" {
		fallback = defaultEmailSubj
	}
	subject, body := openai.SplitSubject(completion.Content, fallback)

	c.JSON(http.StatusOK, gin.H{
		"data": generatedEmail{Subject: subject, Body: body, Model: completion.Model},
		"meta": newActionMeta(outcome),
	})
}

func (s *Server) GenerateCustom(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req customPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		AbortWithError(c, newValidationError("prompt", "required", "prompt is required"))
		return
	}
	if len(prompt) > maxCustomPrompt {
		AbortWithError(c, newValidationError("prompt", "too_long", "prompt is too long"))
		return
	}

	completion, outcome, err := s.generate(c.Request.Context(), userID, actionCustom, nil, openai.CustomMessages(prompt))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": generatedText{Content: completion.Content, Model: completion.Model},
		"meta": newActionMeta(outcome),
	})
}

func (s *Server) generate(ctx context.Context, userID, actionType string, metadata map[string]any, messages []openai.Message) (*openai.Completion, *meteringdomain.Outcome, error) {
	var completion *openai.Completion
	outcome, err := s.metering.Run(ctx, meteringdomain.ActionRequest{
		UserID:     userID,
		ActionType: actionType,
		Provider:   byokdomain.ProviderGeneration,
		Metadata:   metadata,
	}, func(ctx context.Context, cred byokdomain.Resolution) error {
		out, err := s.openai.Complete(ctx, cred.Credential, messages)
		if err != nil {
			return err
		}
		completion = out
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return completion, outcome, nil
}
