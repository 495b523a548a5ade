package model

import "time"

// ==================== ExtractionLog 同步审计日志 ====================

// ExtractionLog 每次同步尝试一行，追加写，运行结束时 running 转为终态
type ExtractionLog struct {
	BaseModel
	RunID        string `gorm:"size:36;index" json:"run_id"`
	ConnectionID int64  `gorm:"index" json:"connection_id"`
	Entity       string `gorm:"size:64;index" json:"entity"`

	Status string `gorm:"size:16" json:"status"` // running / success / error

	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`

	// 写入失败被跳过的条数
	Skipped int `json:"skipped"`

	DurationMs int64 `json:"duration_ms"`

	// 错误信息或继续提示，如 "500/1200 已处理，下次从 offset=500 继续"
	Message string `gorm:"size:1024" json:"message"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

func (ExtractionLog) TableName() string {
	return "extraction_logs"
}

// 日志状态
const (
	LogStatusRunning = "running"
	LogStatusSuccess = "success"
	LogStatusError   = "error"
)
