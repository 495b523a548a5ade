package model

import "time"

// ==================== ExtractionProgress 抽取进度 ====================

// ExtractionProgress 每个 (连接, 实体) 一行的同步检查点
// 约束：
//   - LastOffset 在一次完整运行内单调不减
//   - IsComplete=true 且 TotalRecords>0 时，LastOffset >= TotalRecords
type ExtractionProgress struct {
	BaseModel
	ConnectionID int64  `gorm:"index;uniqueIndex:idx_progress_conn_entity" json:"connection_id"`
	Entity       string `gorm:"size:64;uniqueIndex:idx_progress_conn_entity" json:"entity"`

	// 下一页起始 offset
	LastOffset int  `json:"last_offset"`
	IsComplete bool `json:"is_complete"`

	// 远端最近上报的权威总数，0 表示未知
	TotalRecords int `json:"total_records"`

	LastSyncAt *time.Time `json:"last_sync_at"`
	NextSyncAt *time.Time `json:"next_sync_at"`
}

func (ExtractionProgress) TableName() string {
	return "extraction_progress"
}
