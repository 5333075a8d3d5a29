package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallbiznis/sendora/internal/audit"
	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	"github.com/smallbiznis/sendora/internal/config"
	"github.com/smallbiznis/sendora/internal/customer"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/domaininspect"
	"github.com/smallbiznis/sendora/internal/feature"
	"github.com/smallbiznis/sendora/internal/observability"
	obsmiddleware "github.com/smallbiznis/sendora/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/sendora/internal/observability/metrics"
	obstracing "github.com/smallbiznis/sendora/internal/observability/tracing"
	"github.com/smallbiznis/sendora/internal/providers/domainauth"
	"github.com/smallbiznis/sendora/internal/ratelimit"
	"github.com/smallbiznis/sendora/internal/sendingdomain"
	sendingdomaindomain "github.com/smallbiznis/sendora/internal/sendingdomain/domain"
	"github.com/smallbiznis/sendora/internal/usage"
	usagedomain "github.com/smallbiznis/sendora/internal/usage/domain"
	"github.com/smallbiznis/sendora/internal/vault"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	vault.Module,
	audit.Module,
	customer.Module,
	feature.Module,
	usage.Module,
	domainauth.Module,
	domaininspect.Module,
	sendingdomain.Module,
	ratelimit.Module,
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
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
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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

// Server is the internal entitlement surface. Collaborating services
// (job submission, admin console, payment webhooks) sit in front of it;
// there is no product routing or session issuance here.
type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	catalog     *config.CatalogHolder
	db          *gorm.DB
	customerSvc customerdomain.Service
	usageSvc    usagedomain.Service
	domainSvc   sendingdomaindomain.Service
	auditSvc    auditdomain.Service
	gate        *feature.Gate
	sendLimiter *ratelimit.SendLimiter
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Catalog     *config.CatalogHolder
	DB          *gorm.DB
	CustomerSvc customerdomain.Service
	UsageSvc    usagedomain.Service
	DomainSvc   sendingdomaindomain.Service
	AuditSvc    auditdomain.Service
	Gate        *feature.Gate
	SendLimiter *ratelimit.SendLimiter `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		catalog:     p.Catalog,
		db:          p.DB,
		customerSvc: p.CustomerSvc,
		usageSvc:    p.UsageSvc,
		domainSvc:   p.DomainSvc,
		auditSvc:    p.AuditSvc,
		gate:        p.Gate,
		sendLimiter: p.SendLimiter,
		obsMetrics:  p.ObsMetrics,
	}
}

func registerRoutes(s *Server) {
	s.RegisterInternalRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterInternalRoutes() {
	v1 := s.engine.Group("/internal/v1")

	v1.POST("/tenants", s.Signup)

	tenants := v1.Group("/tenants/:tenant_id", s.TenantContext())
	{
		tenants.GET("", s.GetTenant)
		tenants.POST("/plan", s.ChangePlan)
		tenants.POST("/limit", s.OverrideMonthlyLimit)
		tenants.PUT("/credential", s.StoreSendCredential)
		tenants.PUT("/subscription-status", s.SetSubscriptionStatus)

		tenants.GET("/usage", s.GetUsageStats)
		tenants.POST("/usage/reset", s.ResetUsage)
		tenants.POST("/features/check", s.CheckFeature)
		tenants.POST("/sends/authorize", s.AuthorizeSend)

		tenants.POST("/sending-domain", s.RequestSendingDomain)
		tenants.GET("/sending-domain", s.GetSendingDomain)
		tenants.POST("/sending-domain/verify", s.CheckSendingDomain)
		tenants.DELETE("/sending-domain", s.RemoveSendingDomain)

		tenants.GET("/audit-events", s.ListAuditEvents)
	}
}
