package dto

// ==================== 同步触发 ====================

// SyncRequest 触发一次同步
type SyncRequest struct {
	// 指定实体名；为空时由调度器挑选
	Entity string `json:"entity"`

	// 仅做连通性探测并记录结果，不触碰进度
	TestOnly bool `json:"test_only"`

	// 是否从检查点继续，缺省为 true；显式 false 时本次从 offset=0 拉取
	// （不清空已落库数据，upsert 天然幂等）
	ContinueFromCheckpoint *bool `json:"continue_from_checkpoint"`

	// 同步前清零指定实体的检查点
	ForceReset bool `json:"force_reset"`
}

// Continue 解析 ContinueFromCheckpoint 缺省值
func (r *SyncRequest) Continue() bool {
	return r.ContinueFromCheckpoint == nil || *r.ContinueFromCheckpoint
}

// ==================== 同步结果 ====================

// EntitySyncResult 单实体同步结果
type EntitySyncResult struct {
	Entity     string `json:"entity"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	Processed  int    `json:"processed"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`

	// 写入失败被跳过的条数（按批计）
	Skipped int `json:"skipped"`

	IsComplete   bool   `json:"is_complete"`
	TotalRecords int    `json:"total_records"`
	FinalOffset  int    `json:"final_offset"`
	Message      string `json:"message,omitempty"`
}

// SyncResponse 一次触发的汇总结果，可能覆盖多个实体
type SyncResponse struct {
	ConnectionID int64              `json:"connection_id"`
	Success      bool               `json:"success"`
	DurationMs   int64              `json:"duration_ms"`
	Entities     []EntitySyncResult `json:"entities"`

	// 汇总计数
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`

	// 调度器无事可做时置 true
	NothingPending bool `json:"nothing_pending,omitempty"`

	Message string `json:"message,omitempty"`
}

// ==================== 状态查询 ====================

// EntityStatusVO 单实体进度视图
type EntityStatusVO struct {
	Entity       string `json:"entity"`
	Priority     int    `json:"priority"`
	IsComplete   bool   `json:"is_complete"`
	LastOffset   int    `json:"last_offset"`
	TotalRecords int    `json:"total_records"`
	LocalCount   int64  `json:"local_count"`
	LastSyncAt   string `json:"last_sync_at,omitempty"`
	Pending      bool   `json:"pending"`
	Reason       string `json:"reason,omitempty"`
}

// ConnectionStatusResponse 连接维度的同步状态
type ConnectionStatusResponse struct {
	ConnectionID int64            `json:"connection_id"`
	Entities     []EntityStatusVO `json:"entities"`
}

// ==================== 连通性探测 ====================

// TestConnectionResponse 探测结果
type TestConnectionResponse struct {
	OK         bool   `json:"ok"`
	DurationMs int64  `json:"duration_ms"`
	Message    string `json:"message,omitempty"`
}
