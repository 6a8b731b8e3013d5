package httptransport

import (
	"net/http"
	"strings"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/middleware"
	"tempinbox/backend/internal/monitoring"
)

var (
	corsMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept"}
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config    *config.Config
	Generator AddressGenerator
	Inbox     InboxReader
	Simulator MessageSimulator // 为 nil 或配置关闭时不注册
	Receiver  MailReceiver     // 入站 Webhook 使用
	Sweeper   middleware.SweepTrigger
	Health    *health.HealthChecker
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(mm.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(mm.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	cors := corsConfig(deps.Config.CORS.AllowedOrigins)
	router.Use(gincors.New(cors))
	if cors.AllowAllOrigins {
		router.Use(originlessCORS())
	}

	// 健康检查与指标
	if deps.Health != nil {
		router.GET("/health", healthStatus(deps.Health))
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	sweep := middleware.TriggerSweep(deps.Sweeper)
	inbox := NewInboxHandler(deps.Generator, deps.Inbox, deps.Simulator)
	generateLimit := middleware.NewIPRateLimiter(
		deps.Config.Inbox.GenerateRate,
		deps.Config.Inbox.GenerateBurst,
		"generate",
		deps.Metrics,
	)

	api := router.Group("/api", sweep, middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	{
		api.POST("/generate", generateLimit.Middleware(), inbox.Generate)
		api.GET("/inbox/:email", inbox.GetInbox)
		api.PUT("/email/:address/:id/read", inbox.MarkRead)
		api.DELETE("/delete/:id", inbox.Delete)

		if deps.Simulator != nil && deps.Config.Inbox.EnableSimulate {
			api.POST("/simulate-receive", inbox.Simulate)
		}
	}

	if deps.Receiver != nil && deps.Config.Webhook.Enabled {
		inbound := NewInboundHandler(
			deps.Receiver,
			deps.Config.Inbox.Domain,
			deps.Config.Webhook.SigningKey,
			deps.Config.Webhook.MaxAge,
			logger,
		)
		router.POST("/api/inbound", sweep, middleware.BodySizeLimit(middleware.InboundBodyLimit), inbound.Receive)
	}

	router.NoRoute(sweep, noRoute)

	return router
}

func corsConfig(origins []string) gincors.Config {
	cfg := gincors.Config{
		AllowMethods: corsMethods,
		AllowHeaders: corsHeaders,
		MaxAge:       12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// originlessCORS 没有 Origin 头的请求同样带上通配 CORS 头，gincors 只处理跨域请求
func originlessCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Origin") == "" {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
			c.Header("Access-Control-Allow-Headers", strings.Join(corsHeaders, ", "))
		}
		c.Next()
	}
}

// healthStatus 汇总各项检查，任一失败返回 503
func healthStatus(hc *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks, healthy := hc.CheckHealth()
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
	}
}

// noRoute 未匹配的 OPTIONS 视为预检请求，其余返回 404
func noRoute(c *gin.Context) {
	if c.Request.Method == http.MethodOptions {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
		c.Header("Access-Control-Allow-Headers", strings.Join(corsHeaders, ", "))
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusNotFound, errorResponse{Error: MsgNotFound})
}
