package task

import (
	"context"
	"log"
	"time"

	"data_sync_v1_202608/internal/api/dto"
	"data_sync_v1_202608/internal/repository"
	"data_sync_v1_202608/internal/service"
)

// ==================== TaskManager 同步任务管理器 ====================

// TaskManager 统一管理后台抽取任务
type TaskManager struct {
	extractionTask *ExtractionTask
	engine         *service.SyncEngine
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	ConnRepo repository.ConnectionRepository
	Engine   *service.SyncEngine
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	// 定时抽取
	ExtractionEnabled     bool
	ExtractionConcurrency int
}

// DefaultConfig 默认配置
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		ExtractionEnabled:     true,
		ExtractionConcurrency: 5,
	}
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tm := &TaskManager{engine: deps.Engine}

	if cfg.ExtractionEnabled && deps.Engine != nil {
		tm.extractionTask = NewExtractionTask(deps.ConnRepo, deps.Engine)
		tm.extractionTask.SetConcurrency(cfg.ExtractionConcurrency, 200*time.Millisecond)
	}

	return tm
}

// ==================== 生命周期管理 ====================

// Start 启动所有任务
func (tm *TaskManager) Start() {
	log.Println("[TaskManager] 正在启动抽取任务...")

	if tm.extractionTask != nil {
		tm.extractionTask.Start()
	}

	log.Println("[TaskManager] 抽取任务已启动")
}

// Stop 停止所有任务
func (tm *TaskManager) Stop() {
	log.Println("[TaskManager] 正在停止抽取任务...")

	if tm.extractionTask != nil {
		tm.extractionTask.Stop()
	}

	log.Println("[TaskManager] 抽取任务已停止")
}

// ==================== 手动触发接口 ====================

// TriggerConnectionSync 触发单个连接同步
func (tm *TaskManager) TriggerConnectionSync(ctx context.Context, connectionID int64, req *dto.SyncRequest) (*dto.SyncResponse, error) {
	if tm.extractionTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.extractionTask.SyncConnectionNow(ctx, connectionID, req)
}

// TriggerAllConnectionsSync 触发所有活跃连接同步
func (tm *TaskManager) TriggerAllConnectionsSync() {
	if tm.extractionTask != nil {
		tm.extractionTask.SyncAllNow()
	}
}

// TriggerConnectionTest 触发连通性探测
func (tm *TaskManager) TriggerConnectionTest(ctx context.Context, connectionID int64) (*dto.TestConnectionResponse, error) {
	if tm.engine == nil {
		return nil, ErrTaskDisabled
	}
	return tm.engine.Test(ctx, connectionID)
}

// ==================== 状态查询 ====================

// Status 获取任务状态
func (tm *TaskManager) Status() map[string]bool {
	return map[string]bool{
		"extraction": tm.extractionTask != nil,
	}
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
)
