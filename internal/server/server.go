package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/leadforge/internal/audit/auditcontext"
	auditdomain "github.com/smallbiznis/leadforge/internal/audit/domain"
	authdomain "github.com/smallbiznis/leadforge/internal/auth/domain"
	"github.com/smallbiznis/leadforge/internal/authorization"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"github.com/smallbiznis/leadforge/internal/config"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	meteringdomain "github.com/smallbiznis/leadforge/internal/metering/domain"
	"github.com/smallbiznis/leadforge/internal/observability"
	obsmiddleware "github.com/smallbiznis/leadforge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leadforge/internal/observability/metrics"
	obstracing "github.com/smallbiznis/leadforge/internal/observability/tracing"
	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
	"github.com/smallbiznis/leadforge/internal/providers/openai"
	"github.com/smallbiznis/leadforge/internal/providers/places"
	"github.com/smallbiznis/leadforge/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())
	r.Use(requestAuditContext())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if obsCfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return r
}

func requestAuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auditcontext.WithRequest(c.Request.Context(), c.ClientIP(), c.Request.UserAgent()))
		c.Next()
	}
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	credits    *config.CreditConfigHolder
	authSvc    authdomain.Service
	authzSvc   authorization.Service
	pricingSvc pricingdomain.Service
	ledgerSvc  ledgerdomain.Service
	byokSvc    byokdomain.Service
	billingSvc billingdomain.Service
	metering   meteringdomain.Service
	places     *places.Client
	openai     *openai.Client
	limiter    *ratelimit.ActionLimiter
	auditSvc   auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Credits    *config.CreditConfigHolder
	AuthSvc    authdomain.Service
	AuthzSvc   authorization.Service
	PricingSvc pricingdomain.Service
	LedgerSvc  ledgerdomain.Service
	ByokSvc    byokdomain.Service
	BillingSvc billingdomain.Service
	Metering   meteringdomain.Service
	Places     *places.Client
	OpenAI     *openai.Client
	Limiter    *ratelimit.ActionLimiter `optional:"true"`
	AuditSvc   auditdomain.Service      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		credits:    p.Credits,
		authSvc:    p.AuthSvc,
		authzSvc:   p.AuthzSvc,
		pricingSvc: p.PricingSvc,
		ledgerSvc:  p.LedgerSvc,
		byokSvc:    p.ByokSvc,
		billingSvc: p.BillingSvc,
		metering:   p.Metering,
		places:     p.Places,
		openai:     p.OpenAI,
		limiter:    p.Limiter,
		auditSvc:   p.AuditSvc,
	}

	svc.registerPublicRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	api := s.engine.Group("/api")

	api.GET("/plans", s.ListPlans)
	api.GET("/plans/:slug", s.GetPlan)
	api.GET("/credit-costs", s.ListCreditCosts)

	api.GET("/places/geocode", s.PublicRateLimit(actionGeocode), s.Geocode)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	// -------- Credits --------
	api.GET("/credits", s.GetCredits)
	api.GET("/credits/history", s.ListCreditHistory)
	api.GET("/credits/usage-stats", s.GetUsageStats)
	api.GET("/credits/check/:action_type", s.CheckCredits)
	api.POST("/credits/buy", s.BuyCredits)

	// -------- Subscription --------
	api.GET("/subscription", s.GetSubscription)
	api.POST("/subscription/subscribe", s.Subscribe)
	api.POST("/subscription/cancel", s.CancelSubscription)

	// -------- Payments --------
	api.GET("/payments/history", s.ListPayments)
	api.GET("/payments/:id/receipt", s.DownloadReceipt)

	// -------- BYOK --------
	api.GET("/api-keys/status", s.GetAPIKeyStatus)
	api.POST("/api-keys", s.SaveAPIKeys)
	api.POST("/api-keys/remove", s.RemoveAPIKeys)
	api.POST("/api-keys/verify", s.VerifyAPIKeys)
	api.POST("/api-keys/toggle-byok", s.ToggleByok)

	// -------- Actions --------
	api.GET("/places/nearby", s.NearbySearch)
	api.GET("/places/details", s.PlaceDetails)
	api.POST("/ai/proposal", s.GenerateProposal)
	api.POST("/ai/email", s.GenerateEmail)
	api.POST("/ai/custom", s.GenerateCustom)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.AuthRequired())

	admin.PUT("/credit-costs/:action_type",
		s.RequirePermission(authorization.ObjectCreditCost, authorization.ActionCreditCostUpdate),
		s.UpsertCreditCost,
	)
	admin.DELETE("/credit-costs/:action_type",
		s.RequirePermission(authorization.ObjectCreditCost, authorization.ActionCreditCostDelete),
		s.DeactivateCreditCost,
	)
	admin.POST("/plans",
		s.RequirePermission(authorization.ObjectPlan, authorization.ActionPlanCreate),
		s.CreatePlan,
	)
	admin.POST("/credits/grant",
		s.RequirePermission(authorization.ObjectCredits, authorization.ActionCreditsGrant),
		s.GrantCredits,
	)
	admin.GET("/audit-logs",
		s.RequirePermission(authorization.ObjectAuditLog, authorization.ActionAuditLogRead),
		s.ListAuditLogs,
	)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
