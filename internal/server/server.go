package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/scribeflow/creditcore/internal/config"
	jobdomain "github.com/scribeflow/creditcore/internal/job/domain"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	"github.com/scribeflow/creditcore/internal/observability"
	obsmiddleware "github.com/scribeflow/creditcore/internal/observability/logger"
	obsmetrics "github.com/scribeflow/creditcore/internal/observability/metrics"
	obstracing "github.com/scribeflow/creditcore/internal/observability/tracing"
	paymentdomain "github.com/scribeflow/creditcore/internal/payment/domain"
	pricingdomain "github.com/scribeflow/creditcore/internal/pricing/domain"
	promodomain "github.com/scribeflow/creditcore/internal/promo/domain"
	"github.com/scribeflow/creditcore/internal/ratelimit"
	usagedomain "github.com/scribeflow/creditcore/internal/usage/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
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
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
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

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	pricingSvc pricingdomain.Service
	ledgerSvc  ledgerdomain.Service
	jobSvc     jobdomain.Service
	promoSvc   promodomain.Service
	paymentSvc paymentdomain.Service
	usageSvc   usagedomain.Service
	limiter    *ratelimit.RequestLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	PricingSvc pricingdomain.Service
	LedgerSvc  ledgerdomain.Service
	JobSvc     jobdomain.Service
	PromoSvc   promodomain.Service
	PaymentSvc paymentdomain.Service
	UsageSvc   usagedomain.Service
	Limiter    *ratelimit.RequestLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		pricingSvc: p.PricingSvc,
		ledgerSvc:  p.LedgerSvc,
		jobSvc:     p.JobSvc,
		promoSvc:   p.PromoSvc,
		paymentSvc: p.PaymentSvc,
		usageSvc:   p.UsageSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/estimate", s.Estimate)

	api.GET("/accounts/:id/balance", s.GetBalance)
	api.GET("/accounts/:id/usage", s.ListUsage)

	api.POST("/jobs", s.SubmitRateLimit(), s.SubmitJob)
	api.GET("/jobs/:id", s.GetJob)
	api.POST("/jobs/:id/result", s.ReportJobResult)

	api.POST("/promo/redeem", s.RedeemPromo)

	if s.cfg.Environment != "production" {
		api.POST("/test/cleanup", s.TestCleanup)
	}
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")

	hooks.POST("/payments/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}
