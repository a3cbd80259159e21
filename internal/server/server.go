package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paycore/internal/audit"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/events"
	"github.com/smallbiznis/paycore/internal/observability"
	obsmiddleware "github.com/smallbiznis/paycore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paycore/internal/observability/tracing"
	"github.com/smallbiznis/paycore/internal/order"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	"github.com/smallbiznis/paycore/internal/payment"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/ratelimit"
	"github.com/smallbiznis/paycore/internal/refund"
	refunddomain "github.com/smallbiznis/paycore/internal/refund/domain"
	"github.com/smallbiznis/paycore/internal/retry"
	"github.com/smallbiznis/paycore/internal/subscription"
	"github.com/smallbiznis/paycore/internal/tax"
	taxdomain "github.com/smallbiznis/paycore/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxWebhookBody caps inbound webhook payloads. Gateway events are far
// smaller; anything bigger is not a real delivery.
const maxWebhookBody = 1 << 20

var Module = fx.Module("http.server",
	audit.Module,
	events.Module,
	retry.Module,
	tax.Module,
	order.Module,
	subscription.Module,
	refund.Module,
	payment.Module,
	ratelimit.Module,
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
	r.Use(httpMetrics.GinMiddleware())
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
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	taxSvc   taxdomain.Service
	orderSvc orderdomain.Service
	refunds  refunddomain.Service
	webhooks paymentdomain.WebhookService
	limiter  *ratelimit.APILimiter
	metrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	TaxSvc   taxdomain.Service
	OrderSvc orderdomain.Service
	Refunds  refunddomain.Service
	Webhooks paymentdomain.WebhookService
	Limiter  *ratelimit.APILimiter `optional:"true"`
	Metrics  *obsmetrics.Metrics   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		log:      p.Log.Named("http.server"),
		taxSvc:   p.TaxSvc,
		orderSvc: p.OrderSvc,
		refunds:  p.Refunds,
		webhooks: p.Webhooks,
		limiter:  p.Limiter,
		metrics:  p.Metrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	// Gateways authenticate with the payload signature, so this group has
	// neither the API actor nor the rate limit.
	webhooks := s.engine.Group("/webhooks")
	webhooks.POST("/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(APIActor())
	api.Use(s.APIRateLimit())

	// -------- Tax --------
	api.POST("/tax/calculate", s.CalculateTax)

	// -------- Orders --------
	api.POST("/orders", s.CreateOrder)
	api.GET("/orders/:id", s.GetOrder)
	api.GET("/orders/:id/refund-eligibility", s.GetRefundEligibility)

	// -------- Refunds --------
	api.POST("/refunds", s.CreateRefund)
	api.GET("/refunds/:id", s.GetRefund)

	// -------- Subscriptions --------
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
