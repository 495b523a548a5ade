package router

import (
	"data_sync_v1_202608/internal/controller"
	"data_sync_v1_202608/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Controllers 路由依赖的控制器集合
type Controllers struct {
	Sync       *controller.SyncController
	Connection *controller.ConnectionController
}

// SetupRouter 注册所有路由
func SetupRouter(ctls *Controllers) *gin.Engine {
	r := gin.Default()

	// 1. 健康检查（无鉴权）
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// 2. API 路由组（Bearer 鉴权）
	api := r.Group("/api/v1", middleware.JWTAuth())
	{
		sync := api.Group("/sync")
		{
			connections := sync.Group("/connections")
			{
				// 连接管理
				connections.POST("/create", ctls.Connection.Create)
				connections.GET("/:id", ctls.Connection.Get)
				connections.PUT("/:id/status", ctls.Connection.UpdateStatus)
				connections.DELETE("/:id", ctls.Connection.Delete)

				// 同步触发（带冷却限流）
				connections.POST("", middleware.SyncRateLimit(middleware.ActionSync, 0), ctls.Sync.SyncAllConnections)
				connections.POST("/:id", middleware.SyncRateLimit(middleware.ActionSync, 0), ctls.Sync.TriggerSync)

				// 连通性探测（冷却更短）
				connections.POST("/:id/test", middleware.SyncRateLimit(middleware.ActionTest, middleware.DefaultTestInterval), ctls.Sync.TestConnection)

				// 状态与日志查询
				connections.GET("/:id/status", ctls.Sync.Status)
				connections.GET("/:id/logs", ctls.Sync.Logs)
				connections.GET("/:id/logs/:run_id", ctls.Sync.RunDetail)
			}
		}
	}

	return r
}
