package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/edupoints/internal/audit"
	auditdomain "github.com/smallbiznis/edupoints/internal/audit/domain"
	"github.com/smallbiznis/edupoints/internal/authorization"
	"github.com/smallbiznis/edupoints/internal/cache"
	"github.com/smallbiznis/edupoints/internal/config"
	"github.com/smallbiznis/edupoints/internal/observability"
	obsmiddleware "github.com/smallbiznis/edupoints/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/edupoints/internal/observability/metrics"
	obstracing "github.com/smallbiznis/edupoints/internal/observability/tracing"
	"github.com/smallbiznis/edupoints/internal/quota"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/smallbiznis/edupoints/internal/quota/notify"
	"github.com/smallbiznis/edupoints/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	cache.Module,
	ratelimit.Module,
	authorization.Module,
	audit.Module,
	quota.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	quotaSvc   quotadomain.Service
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	notices    *notify.Hub
	limiter    *ratelimit.DeductionLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	QuotaSvc   quotadomain.Service
	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service         `optional:"true"`
	Notices    *notify.Hub                 `optional:"true"`
	Limiter    *ratelimit.DeductionLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		quotaSvc:   p.QuotaSvc,
		authzSvc:   p.AuthzSvc,
		auditSvc:   p.AuditSvc,
		notices:    p.Notices,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Deductions --------
	api.POST("/deductions", s.DeductionRateLimit(), s.Deduct)
	api.POST("/admissions", s.CheckAdmission)

	// -------- Scopes --------
	scopes := api.Group("/scopes/:type/:id", s.ScopeParam())
	{
		scopes.GET("/balance", s.GetBalance)
		scopes.GET("/ledger", s.ListLedger)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin/v1")

	// --- global middlewares ---
	admin.Use(s.AdminAuthRequired())

	// -------- Scopes --------
	scopes := admin.Group("/scopes/:type/:id", s.ScopeParam())
	{
		scopes.POST("", s.authorizeScopeAction(authorization.ObjectScope, authorization.ActionQuotaProvision), s.ProvisionScope)
		scopes.POST("/top-up", s.authorizeScopeAction(authorization.ObjectScope, authorization.ActionQuotaAdjust), s.TopUp)
		scopes.GET("/notices", s.authorizeScopeAction(authorization.ObjectScope, authorization.ActionQuotaNotices), s.StreamNotices)
	}

	// -------- Ledger --------
	admin.POST("/ledger/:id/reverse", s.authorizeGlobalAction(authorization.ObjectLedger, authorization.ActionQuotaReverse), s.ReverseEntry)

	// -------- Roles --------
	admin.POST("/roles", s.authorizeGlobalAction(authorization.ObjectRole, authorization.ActionRoleAssign), s.AssignRole)
	admin.DELETE("/roles", s.authorizeGlobalAction(authorization.ObjectRole, authorization.ActionRoleAssign), s.RevokeRole)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorizeGlobalAction(authorization.ObjectAudit, authorization.ActionAuditView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
