package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/leadforge/internal/audit/domain"
	"github.com/smallbiznis/leadforge/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	if s.auditSvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var req auditdomain.ListAuditLogRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// recordAudit never fails the request; a lost audit row is logged instead.
func (s *Server) recordAudit(c *gin.Context, entry auditdomain.Entry) {
	if s.auditSvc == nil {
		return
	}
	if entry.ActorID == "" {
		entry.ActorID, _ = userIDFromContext(c)
	}
	if err := s.auditSvc.Record(c.Request.Context(), entry); err != nil {
		logger.FromContext(c.Request.Context()).Warn("audit record failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}
