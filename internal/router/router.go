package router

import (
	"net/http"

	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/handlers"
	"github.com/3Eeeecho/go-dropshare/internal/metrics"
	"github.com/3Eeeecho/go-dropshare/internal/middlewares"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/ratelimit"
	"github.com/3Eeeecho/go-dropshare/internal/services/share"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig 包含初始化路由所需的所有依赖
type RouterConfig struct {
	Cfg          *config.Config
	ShareService share.ShareService
	Limiter      *ratelimit.Limiter
	Pinger       handlers.Pinger
}

func InitRouter(rc *RouterConfig) *gin.Engine {
	gin.SetMode(rc.Cfg.Server.Mode)

	router := gin.New()
	if err := router.SetTrustedProxies(rc.Cfg.Server.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies, forwarded headers ignored", zap.Strings("proxies", rc.Cfg.Server.TrustedProxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())
	router.Use(middlewares.RequestID())
	router.Use(middlewares.AccessLog())
	router.Use(metrics.Middleware())

	// Health Check 路由
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	health := handlers.NewHealthHandler(rc.Pinger, rc.Cfg.Metadata.Timeout)
	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)
	metrics.Register(router, rc.Cfg.Metrics.Path)

	rl := rc.Cfg.RateLimit
	apiLimit := middlewares.RateLimit(rc.Limiter, "api", rl.APILimit, rl.APIWindow)
	uploadLimit := middlewares.RateLimit(rc.Limiter, "upload", rl.UploadLimit, rl.UploadWindow)
	session := middlewares.SessionMiddleware(rc.Cfg.Session)

	fileHandler := handlers.NewFileHandler(rc.ShareService, rc.Cfg.Upload)
	shareHandler := handlers.NewShareHandler(rc.ShareService)

	v1 := router.Group("/api/v1")
	v1.Use(session)
	{
		fileGroup := v1.Group("/files")
		{
			fileGroup.POST("", uploadLimit, fileHandler.Upload)
			fileGroup.GET("", apiLimit, fileHandler.List)
			fileGroup.GET("/:id", apiLimit, fileHandler.Get)
			fileGroup.PATCH("/:id", apiLimit, fileHandler.Update)
			fileGroup.DELETE("/:id", apiLimit, fileHandler.Delete)
			fileGroup.POST("/:id/extend", apiLimit, fileHandler.Extend)
			fileGroup.POST("/:id/verify-password", apiLimit, fileHandler.VerifyPassword)
			fileGroup.POST("/:id/downloads", apiLimit, fileHandler.RecordDownload)
		}
	}

	// 分享链接直接下载，不需要会话
	router.GET("/share/:id", apiLimit, shareHandler.Download)

	return router
}
