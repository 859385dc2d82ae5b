package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tally/internal/authorization"
	"github.com/smallbiznis/tally/internal/balance"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	"github.com/smallbiznis/tally/internal/cache"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/consumption"
	consumptiondomain "github.com/smallbiznis/tally/internal/consumption/domain"
	"github.com/smallbiznis/tally/internal/creditconfig"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	"github.com/smallbiznis/tally/internal/expiry"
	expirydomain "github.com/smallbiznis/tally/internal/expiry/domain"
	"github.com/smallbiznis/tally/internal/ledger"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/smallbiznis/tally/internal/notification"
	"github.com/smallbiznis/tally/internal/observability"
	obsmiddleware "github.com/smallbiznis/tally/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tally/internal/observability/tracing"
	"github.com/smallbiznis/tally/internal/purchase"
	purchasedomain "github.com/smallbiznis/tally/internal/purchase/domain"
	"github.com/smallbiznis/tally/internal/scheduler"
	"github.com/smallbiznis/tally/internal/statement"
	"github.com/smallbiznis/tally/internal/transfer"
	transferdomain "github.com/smallbiznis/tally/internal/transfer/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	config.Module,
	observability.Module,
	clock.Module,
	db.Module,
	cache.Module,
	migration.Module,
	authorization.Module,
	notification.Module,
	balance.Module,
	ledger.Module,
	creditconfig.Module,
	consumption.Module,
	transfer.Module,
	expiry.Module,
	purchase.Module,
	statement.Module,
	scheduler.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
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

func registerGin(log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(log, obsCfg, httpMetrics)
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

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	genID          *snowflake.Node
	authzSvc       authorization.Service
	balanceSvc     balancedomain.Service
	ledgerSvc      ledgerdomain.Service
	configSvc      configdomain.Service
	resolver       configdomain.Resolver
	consumptionSvc consumptiondomain.Service
	transferSvc    transferdomain.Service
	expirySvc      expirydomain.Service
	purchaseSvc    purchasedomain.Service
	statementSvc   statement.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	GenID          *snowflake.Node
	AuthzSvc       authorization.Service
	BalanceSvc     balancedomain.Service
	LedgerSvc      ledgerdomain.Service
	ConfigSvc      configdomain.Service
	Resolver       configdomain.Resolver
	ConsumptionSvc consumptiondomain.Service
	TransferSvc    transferdomain.Service
	ExpirySvc      expirydomain.Service
	PurchaseSvc    purchasedomain.Service
	StatementSvc   statement.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		genID:          p.GenID,
		authzSvc:       p.AuthzSvc,
		balanceSvc:     p.BalanceSvc,
		ledgerSvc:      p.LedgerSvc,
		configSvc:      p.ConfigSvc,
		resolver:       p.Resolver,
		consumptionSvc: p.ConsumptionSvc,
		transferSvc:    p.TransferSvc,
		expirySvc:      p.ExpirySvc,
		purchaseSvc:    p.PurchaseSvc,
		statementSvc:   p.StatementSvc,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", RequireOrg())

	v1.GET("/balances/:entity_type/:entity_id", s.getBalance)
	v1.DELETE("/balances/:entity_type/:entity_id", s.deactivateBalance)

	v1.POST("/credits/consume", s.consumeCredits)
	v1.POST("/credits/check", s.checkCredits)

	v1.POST("/transfers", s.transferCredits)

	v1.GET("/transactions", s.listTransactions)
	v1.GET("/transactions/:entity_type/:entity_id/statement", s.downloadStatement)

	v1.POST("/purchases", s.purchaseCredits)
	v1.GET("/purchases", s.listPurchases)
	v1.GET("/purchases/:reference", s.getPurchase)
	v1.POST("/purchases/:reference/confirm", s.confirmPurchase)
	v1.POST("/purchases/:reference/fail", s.failPurchase)

	v1.GET("/configs/:level", s.listConfigs)
	v1.PUT("/configs", s.setConfig)
	v1.GET("/pricing/:code", s.resolveOperation)

	v1.GET("/expiring", s.listExpiringCredits)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin/v1", RequireOrg())

	admin.PUT("/configs", s.setGlobalConfig)
	admin.GET("/configs/:level", s.listGlobalConfigs)
	admin.POST("/expiry/sweep", s.triggerExpirySweep)
	admin.POST("/roles", s.grantRole)
}
