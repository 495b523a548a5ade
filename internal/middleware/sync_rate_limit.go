package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ==================== 同步限流中间件 ====================

// SyncRateLimit 同步触发限流中间件
// 按连接 + 实体维度冷却；实体从查询参数取（body 里的实体交由
// controller 二次判断，这里只拦最粗的维度）
//
// 使用示例:
//
//	router.POST("/api/v1/sync/connections/:id",
//	    middleware.SyncRateLimit(middleware.ActionSync, 0),
//	    syncCtl.TriggerSync,
//	)
func SyncRateLimit(action string, interval time.Duration) gin.HandlerFunc {
	if interval == 0 {
		interval = DefaultSyncInterval
	}

	return func(c *gin.Context) {
		connIDStr := c.Param("id")
		if connIDStr == "" {
			connIDStr = c.Query("connection_id")
		}

		var key string
		if connIDStr != "" {
			connID, err := strconv.ParseInt(connIDStr, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    400,
					"message": "无效的连接 ID",
				})
				c.Abort()
				return
			}
			key = ConnSyncKey(action, connID, c.Query("entity"))
		} else {
			key = GlobalSyncKey(action)
		}

		result := GetLimiter().Check(key, interval)
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": formatRetryMessage(result.RetryAfter),
				"data": gin.H{
					"retry_after": retryAfter,
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// ==================== 辅助函数 ====================

// formatRetryMessage 格式化重试提示信息
func formatRetryMessage(d time.Duration) string {
	seconds := int(d.Seconds())

	if seconds < 60 {
		return fmt.Sprintf("同步冷却中，请 %d 秒后重试", seconds)
	}

	minutes := seconds / 60
	remainingSeconds := seconds % 60

	if remainingSeconds == 0 {
		return fmt.Sprintf("同步冷却中，请 %d 分钟后重试", minutes)
	}

	return fmt.Sprintf("同步冷却中，请 %d 分 %d 秒后重试", minutes, remainingSeconds)
}
