/*
 * @Description: HTTP 路由注册
 * @Author: 安知鱼
 * @Date: 2025-06-15 11:30:55
 * @LastEditTime: 2026-10-17 11:02:19
 * @LastEditors: 安知鱼
 */
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/app/middleware"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/metrics"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	asset_handler "github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/handler/asset"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/response"
)

// 上传接口按IP限流
const (
	uploadRequestsPerMinute = 60
	uploadBurst             = 20
)

// NoCacheMiddleware 反缓存中间件，确保API响应不会被CDN缓存
func NoCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate, private, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

// HealthChecker 探活时调用，例如数据库 Ping
type HealthChecker func(ctx context.Context) error

// Router 封装了应用的所有路由和其依赖的处理器。
type Router struct {
	assetHandler *asset_handler.AssetHandler
	mw           *middleware.Middleware
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	health       HealthChecker
	localRoot    string
}

// NewRouter 是 Router 的构造函数。localRoot 非空时由本服务直接提供本地存储的文件。
func NewRouter(
	assetHandler *asset_handler.AssetHandler,
	mw *middleware.Middleware,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	health HealthChecker,
	localRoot string,
) *Router {
	return &Router{
		assetHandler: assetHandler,
		mw:           mw,
		metrics:      m,
		gatherer:     gatherer,
		health:       health,
		localRoot:    localRoot,
	}
}

// Setup 将所有路由注册到 gin 引擎上
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Cors())
	if r.metrics != nil {
		engine.Use(r.metrics.Middleware())
	}

	engine.GET("/healthz", r.handleHealth)
	if r.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}
	if r.localRoot != "" {
		engine.Static(constant.LocalAssetRoute, r.localRoot)
	}

	apiGroup := engine.Group("/api/v1")
	apiGroup.Use(NoCacheMiddleware())

	r.registerAssetRoutes(apiGroup)
}

func (r *Router) registerAssetRoutes(api *gin.RouterGroup) {
	// 公开查询
	api.GET("/assets/:id", r.assetHandler.Get)

	assets := api.Group("/assets").Use(r.mw.JWTAuth())
	{
		assets.POST("", middleware.NewUploadLimiter(uploadRequestsPerMinute, uploadBurst).Handler(), r.assetHandler.Upload)
		assets.GET("/stats", r.assetHandler.Stats)
		assets.DELETE("/:id", r.mw.AdminAuth(), r.assetHandler.Delete)
	}
}

func (r *Router) handleHealth(c *gin.Context) {
	if r.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := r.health(ctx); err != nil {
			response.Fail(c, http.StatusServiceUnavailable, "unhealthy: "+err.Error())
			return
		}
	}
	response.Success(c, gin.H{"status": "ok"}, "ok")
}
