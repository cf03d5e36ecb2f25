package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/creditflow/internal/config"
	"github.com/smallbiznis/creditflow/internal/consumption"
	consumptiondomain "github.com/smallbiznis/creditflow/internal/consumption/domain"
	"github.com/smallbiznis/creditflow/internal/cost"
	costdomain "github.com/smallbiznis/creditflow/internal/cost/domain"
	"github.com/smallbiznis/creditflow/internal/events"
	"github.com/smallbiznis/creditflow/internal/limit"
	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
	"github.com/smallbiznis/creditflow/internal/notification"
	obslogger "github.com/smallbiznis/creditflow/internal/observability/logger"
	obstracing "github.com/smallbiznis/creditflow/internal/observability/tracing"
	"github.com/smallbiznis/creditflow/internal/ownership"
	ownershipdomain "github.com/smallbiznis/creditflow/internal/ownership/domain"
	"github.com/smallbiznis/creditflow/internal/ratelimit"
	"github.com/smallbiznis/creditflow/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	"github.com/smallbiznis/creditflow/internal/tracking"
	trackingdomain "github.com/smallbiznis/creditflow/internal/tracking/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	events.Module,
	ratelimit.Module,
	subscription.Module,
	cost.Module,
	tracking.Module,
	limit.Module,
	ownership.Module,
	consumption.Module,
	notification.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	genID           *snowflake.Node
	subscriptionSvc subscriptiondomain.Service
	costSvc         costdomain.Service
	trackingSvc     trackingdomain.Service
	limitSvc        limitdomain.Service
	ownershipSvc    ownershipdomain.Service
	consumptionSvc  consumptiondomain.Service
	liveUpdates     *notification.Hub
	throttle        *ratelimit.ConsumeThrottle
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	SubscriptionSvc subscriptiondomain.Service
	CostSvc         costdomain.Service
	TrackingSvc     trackingdomain.Service
	LimitSvc        limitdomain.Service
	OwnershipSvc    ownershipdomain.Service
	ConsumptionSvc  consumptiondomain.Service
	LiveUpdates     *notification.Hub          `optional:"true"`
	Throttle        *ratelimit.ConsumeThrottle `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		genID:           p.GenID,
		subscriptionSvc: p.SubscriptionSvc,
		costSvc:         p.CostSvc,
		trackingSvc:     p.TrackingSvc,
		limitSvc:        p.LimitSvc,
		ownershipSvc:    p.OwnershipSvc,
		consumptionSvc:  p.ConsumptionSvc,
		liveUpdates:     p.LiveUpdates,
		throttle:        p.Throttle,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.OrgContext())

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.ProvisionSubscription)
	api.GET("/subscriptions/:user_id", s.GetSubscription)
	api.POST("/subscriptions/:user_id/credits", s.AddCredits)
	api.PATCH("/subscriptions/:user_id/auto-renew", s.SetAutoRenew)
	api.GET("/subscriptions/:user_id/live", s.StreamBalanceUpdates)

	// -------- Consumption --------
	consume := api.Group("/consume", s.ConsumeThrottle())
	consume.POST("/plugins/:plugin_id/purchase", s.PurchasePlugin)
	consume.POST("/plugins/:plugin_id/usage", s.UsePlugin)
	consume.POST("/workflows/:workflow_id/run", s.RunWorkflow)
	consume.POST("/actions", s.ConsumeAction)

	// -------- History & Limits --------
	api.GET("/history", s.ListHistory)
	api.GET("/limits/:user_id/:category", s.GetLimitWindow)
	api.GET("/ownerships", s.ListOwnerships)

	// -------- Costs --------
	api.GET("/costs", s.ListCosts)
	api.PUT("/costs", s.SetCost)
}
