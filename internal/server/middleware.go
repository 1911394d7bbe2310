package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/leadforge/internal/observability/context"
	"github.com/smallbiznis/leadforge/internal/observability/logger"
	"github.com/smallbiznis/leadforge/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	headerAuthorization = "Authorization"
	bearerPrefix        = "bearer "
	contextUserIDKey    = "user_id"
	contextEmailKey     = "user_email"
)

// AuthRequired verifies the bearer token and stores the caller's user id.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerAuthorization))
		if len(raw) < len(bearerPrefix) || !strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.authSvc.Verify(c.Request.Context(), raw[len(bearerPrefix):])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, identity.UserID)
		c.Set(contextEmailKey, identity.Email)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), identity.UserID))
		c.Next()
	}
}

// RequirePermission gates admin routes through casbin.
func (s *Server) RequirePermission(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), userID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// PublicRateLimit throttles anonymous endpoints per client IP.
func (s *Server) PublicRateLimit(actionType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		err := s.limiter.Allow(c.Request.Context(), "anon:"+c.ClientIP(), actionType)
		if errors.Is(err, ratelimit.ErrRateLimited) {
			AbortWithError(c, err)
			return
		}
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("public rate limit check failed", zap.Error(err))
		}
		c.Next()
	}
}

func userIDFromContext(c *gin.Context) (string, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return "", false
	}
	userID, ok := value.(string)
	if !ok || strings.TrimSpace(userID) == "" {
		return "", false
	}
	return userID, true
}

func mustUserID(c *gin.Context) (string, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return "", false
	}
	return userID, true
}
