package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/leadforge/internal/audit/domain"
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
)

type removeAPIKeysRequest struct {
	Provider string `json:"provider"`
}

type toggleByokRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) GetAPIKeyStatus(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	status, err := s.byokSvc.Status(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) SaveAPIKeys(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req byokdomain.SaveKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.PlacesKey = strings.TrimSpace(req.PlacesKey)
	req.GenerationKey = strings.TrimSpace(req.GenerationKey)
	keys := req.Keys()
	if len(keys) == 0 {
		AbortWithError(c, newValidationError("keys", "required", "at least one API key is required"))
		return
	}

	status, err := s.byokSvc.SaveKeys(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	providers := make([]string, 0, len(keys))
	for provider := range keys {
		providers = append(providers, string(provider))
	}
	s.recordByokAudit(c, userID, "byok.keys_saved", map[string]any{"providers": providers})

	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) RemoveAPIKeys(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req removeAPIKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	target := strings.TrimSpace(req.Provider)
	if target == "" {
		target = byokdomain.RemoveAll
	}

	status, err := s.byokSvc.RemoveKeys(c.Request.Context(), userID, target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordByokAudit(c, userID, "byok.keys_removed", map[string]any{"provider": target})

	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) VerifyAPIKeys(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	result, err := s.byokSvc.VerifyAndSwitch(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordByokAudit(c, userID, "byok.verified", map[string]any{
		"valid":               result.Valid,
		"switched_to_credits": result.SwitchedToCredits,
	})

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ToggleByok(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req toggleByokRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		AbortWithError(c, newValidationError("enabled", "required", "enabled is required"))
		return
	}

	status, err := s.byokSvc.SetEnabled(c.Request.Context(), userID, *req.Enabled)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordByokAudit(c, userID, "byok.toggled", map[string]any{"enabled": *req.Enabled})

	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) recordByokAudit(c *gin.Context, userID, action string, metadata map[string]any) {
	s.recordAudit(c, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    userID,
		Action:     action,
		TargetType: "wallet",
		TargetID:   userID,
		Metadata:   metadata,
	})
}
