package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crowdfund/internal/handler"
	"crowdfund/pkg/otel"
	"crowdfund/pkg/rbac"
)

// Pinger 用于 /readyz 检查存储连通性
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck 是 /readyz 额外检查的一个依赖
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	productHandler *handler.ProductHandler,
	adminHandler *handler.AdminHandler,
	store Pinger,
	jwtSecret string,
	logger *zap.Logger,
	checks ...ReadinessCheck,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), AccessLog(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store_not_ready", "error": err.Error()})
			return
		}
		for _, rc := range checks {
			if err := rc.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": rc.Name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public reads
	products := r.Group("/products")
	{
		products.GET("/:id", productHandler.GetProduct)
		products.GET("/:id/contributions", productHandler.GetContributions)
		products.GET("/:id/milestones", productHandler.GetMilestones)
		products.GET("/:id/rewards", productHandler.GetRewardTiers)
		products.GET("/:id/claims", productHandler.GetClaims)
	}

	// Protected
	authed := r.Group("/")
	authed.Use(AuthMiddleware(jwtSecret))
	{
		authed.POST("/products", RequirePermission(rbac.PermissionCreateProduct), productHandler.CreateProduct)
		authed.POST("/products/:id/contributions", RequirePermission(rbac.PermissionContribute), productHandler.Contribute)
		authed.POST("/products/:id/milestones/:mid/complete", productHandler.CompleteMilestone)
		authed.POST("/products/:id/distribute", productHandler.Distribute)
		authed.POST("/products/:id/refund", productHandler.Refund)
		authed.POST("/products/:id/claims", RequirePermission(rbac.PermissionClaimReward), productHandler.ClaimReward)
	}

	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(jwtSecret))
	{
		admin.POST("/initialize", RequirePermission(rbac.PermissionInitialize), adminHandler.Initialize)
		admin.POST("/outbox/:id/replay", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayFailedEvents)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(addr string) error {
	return r.Engine.Run(addr)
}
