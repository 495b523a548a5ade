package controller

import (
	"strconv"
	"time"

	"data_sync_v1_202608/internal/api/dto"
	"data_sync_v1_202608/internal/repository"
	"data_sync_v1_202608/internal/service"
	"data_sync_v1_202608/internal/task"

	"github.com/gin-gonic/gin"
)

// SyncController 同步控制器
type SyncController struct {
	taskManager *task.TaskManager
	engine      *service.SyncEngine
	connRepo    repository.ConnectionRepository
	logRepo     repository.LogRepository
}

// NewSyncController 创建同步控制器
func NewSyncController(
	taskManager *task.TaskManager,
	engine *service.SyncEngine,
	connRepo repository.ConnectionRepository,
	logRepo repository.LogRepository,
) *SyncController {
	return &SyncController{
		taskManager: taskManager,
		engine:      engine,
		connRepo:    connRepo,
		logRepo:     logRepo,
	}
}

// ==================== Handler 实现 ====================

// TriggerSync 触发单个连接同步
// @Summary 手动触发连接的增量抽取
// @Tags Sync
// @Param id path int true "连接 ID"
// @Param request body dto.SyncRequest false "同步参数"
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/connections/{id} [post]
func (c *SyncController) TriggerSync(ctx *gin.Context) {
	connID := parseID(ctx, "id")
	if connID == 0 {
		return
	}

	var req dto.SyncRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(400, gin.H{"code": 400, "message": "请求体格式错误: " + err.Error()})
			return
		}
	}

	// 仅探测：走轻量路径，不触碰进度
	if req.TestOnly {
		resp, err := c.taskManager.TriggerConnectionTest(ctx.Request.Context(), connID)
		if err != nil {
			ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
			return
		}
		ctx.JSON(200, gin.H{
			"code":    200,
			"message": "连通性探测完成",
			"data":    resp,
		})
		return
	}

	resp, err := c.taskManager.TriggerConnectionSync(ctx.Request.Context(), connID, &req)
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	message := "同步完成"
	if !resp.Success {
		message = "同步部分完成"
	}
	if resp.NothingPending {
		message = "没有待同步的实体"
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": message,
		"data":    resp,
	})
}

// SyncAllConnections 触发所有活跃连接同步
// @Summary 手动触发所有活跃连接的增量抽取
// @Tags Sync
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/connections [post]
func (c *SyncController) SyncAllConnections(ctx *gin.Context) {
	c.taskManager.TriggerAllConnectionsSync()

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "所有连接同步任务已启动",
	})
}

// Status 查询连接的同步状态
// @Summary 查询连接下各实体的同步进度
// @Tags Sync
// @Param id path int true "连接 ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/connections/{id}/status [get]
func (c *SyncController) Status(ctx *gin.Context) {
	connID := parseID(ctx, "id")
	if connID == 0 {
		return
	}

	conn, err := c.connRepo.GetByID(ctx.Request.Context(), connID)
	if err != nil {
		ctx.JSON(404, gin.H{"code": 404, "message": "连接不存在"})
		return
	}

	statuses, err := c.engine.Scheduler().Statuses(ctx.Request.Context(), conn)
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	resp := &dto.ConnectionStatusResponse{ConnectionID: connID}
	for _, st := range statuses {
		vo := dto.EntityStatusVO{
			Entity:       st.Endpoint.Entity,
			Priority:     st.Endpoint.Priority,
			IsComplete:   st.Progress.IsComplete,
			LastOffset:   st.Progress.LastOffset,
			TotalRecords: st.Progress.TotalRecords,
			LocalCount:   st.LocalCount,
			Pending:      st.Pending,
			Reason:       st.Reason,
		}
		if st.Progress.LastSyncAt != nil {
			vo.LastSyncAt = st.Progress.LastSyncAt.Format(time.RFC3339)
		}
		resp.Entities = append(resp.Entities, vo)
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "success",
		"data":    resp,
	})
}

// TestConnection 连通性探测
// @Summary 探测远端可达性并记录结果
// @Tags Sync
// @Param id path int true "连接 ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/connections/{id}/test [post]
func (c *SyncController) TestConnection(ctx *gin.Context) {
	connID := parseID(ctx, "id")
	if connID == 0 {
		return
	}

	resp, err := c.taskManager.TriggerConnectionTest(ctx.Request.Context(), connID)
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "连通性探测完成",
		"data":    resp,
	})
}

// RunDetail 按运行标识查询单次抽取记录
// @Summary 查询某次抽取运行的审计详情
// @Tags Sync
// @Param id path int true "连接 ID"
// @Param run_id path string true "运行标识"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/connections/{id}/logs/{run_id} [get]
func (c *SyncController) RunDetail(ctx *gin.Context) {
	connID := parseID(ctx, "id")
	if connID == 0 {
		return
	}

	entry, err := c.logRepo.GetByRunID(ctx.Request.Context(), ctx.Param("run_id"))
	if err != nil || entry.ConnectionID != connID {
		ctx.JSON(404, gin.H{"code": 404, "message": "运行记录不存在"})
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "success",
		"data":    entry,
	})
}

// Logs 查询连接的抽取日志
// @Summary 查询连接最近的抽取运行记录
// @Tags Sync
// @Param id path int true "连接 ID"
// @Param limit query int false "返回条数，默认 50"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/connections/{id}/logs [get]
func (c *SyncController) Logs(ctx *gin.Context) {
	connID := parseID(ctx, "id")
	if connID == 0 {
		return
	}

	limit := 0
	if s := ctx.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	logs, err := c.logRepo.ListByConnection(ctx.Request.Context(), connID, limit)
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "success",
		"data":    logs,
	})
}

// ==================== 工具函数 ====================

func parseID(ctx *gin.Context, key string) int64 {
	idStr := ctx.Param(key)
	var id int64
	if _, err := parseUint(idStr, &id); err != nil || id == 0 {
		ctx.JSON(400, gin.H{"code": 400, "message": "无效的 ID"})
		return 0
	}
	return id
}

func parseUint(s string, v *int64) (bool, error) {
	if s == "" {
		return false, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return false, err
	}
	*v = n
	return true, nil
}
