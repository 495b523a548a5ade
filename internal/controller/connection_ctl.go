package controller

import (
	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/internal/repository"

	"github.com/gin-gonic/gin"
)

// ConnectionController 连接管理控制器
type ConnectionController struct {
	connRepo     repository.ConnectionRepository
	endpointRepo repository.EndpointRepository
}

// NewConnectionController 创建连接管理控制器
func NewConnectionController(
	connRepo repository.ConnectionRepository,
	endpointRepo repository.EndpointRepository,
) *ConnectionController {
	return &ConnectionController{
		connRepo:     connRepo,
		endpointRepo: endpointRepo,
	}
}

// ==================== Handler 实现 ====================

// createConnectionRequest 创建连接请求
type createConnectionRequest struct {
	TenantID    int64  `json:"tenant_id"`
	Name        string `json:"name" binding:"required"`
	Environment string `json:"environment"`
	AccessToken string `json:"access_token" binding:"required"`
}

// Create 创建连接
// @Summary 创建远端连接
// @Tags Connection
// @Param request body createConnectionRequest true "连接信息"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/connections/create [post]
func (c *ConnectionController) Create(ctx *gin.Context) {
	var req createConnectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"code": 400, "message": "请求体格式错误: " + err.Error()})
		return
	}

	env := req.Environment
	if env == "" {
		env = model.EnvProduction
	}
	if env != model.EnvProduction && env != model.EnvDevelopment {
		ctx.JSON(400, gin.H{"code": 400, "message": "无效的环境: " + env})
		return
	}

	conn := &model.Connection{
		TenantID:    req.TenantID,
		Name:        req.Name,
		Environment: env,
		AccessToken: req.AccessToken,
		Status:      model.ConnectionStatusActive,
	}
	if err := c.connRepo.Create(ctx.Request.Context(), conn); err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "连接已创建",
		"data":    conn,
	})
}

// Get 查询单个连接
// @Summary 查询连接详情
// @Tags Connection
// @Param id path int true "连接 ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/connections/{id} [get]
func (c *ConnectionController) Get(ctx *gin.Context) {
	connID := parseID(ctx, "id")
	if connID == 0 {
		return
	}

	conn, err := c.connRepo.GetByID(ctx.Request.Context(), connID)
	if err != nil {
		ctx.JSON(404, gin.H{"code": 404, "message": "连接不存在"})
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "success",
		"data":    conn,
	})
}

// UpdateStatus 启停连接
// @Summary 修改连接状态
// @Tags Connection
// @Param id path int true "连接 ID"
// @Param status query string true "目标状态 active|paused"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/connections/{id}/status [put]
func (c *ConnectionController) UpdateStatus(ctx *gin.Context) {
	connID := parseID(ctx, "id")
	if connID == 0 {
		return
	}

	status := ctx.Query("status")
	if status != model.ConnectionStatusActive && status != model.ConnectionStatusPaused {
		ctx.JSON(400, gin.H{"code": 400, "message": "无效的状态: " + status})
		return
	}

	if err := c.connRepo.UpdateStatus(ctx.Request.Context(), connID, status); err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "状态已更新",
		"data":    gin.H{"connection_id": connID, "status": status},
	})
}

// Delete 删除连接及其全部同步数据
// @Summary 删除连接（级联清理进度、日志与已同步数据）
// @Tags Connection
// @Param id path int true "连接 ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/sync/connections/{id} [delete]
func (c *ConnectionController) Delete(ctx *gin.Context) {
	connID := parseID(ctx, "id")
	if connID == 0 {
		return
	}

	// 级联范围覆盖目录里所有分页实体的落库表
	endpoints, err := c.endpointRepo.ListEnabled(ctx.Request.Context())
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}
	tables := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if !ep.PerParent() {
			tables = append(tables, ep.TargetTable)
		}
	}

	if err := c.connRepo.DeleteCascade(ctx.Request.Context(), connID, tables); err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "连接及同步数据已删除",
		"data":    gin.H{"connection_id": connID},
	})
}
