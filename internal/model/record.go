package model

import (
	"time"

	"gorm.io/datatypes"
)

// ==================== SyncedRecord 已同步记录 ====================

// SyncedRecord 一条远端记录的本地副本
// 每种实体落在独立的表（TargetTable），结构相同，通过 db.Table(...) 动态绑定；
// (connection_id, external_id) 唯一，是幂等 upsert 的键。
// 唯一索引在建表时按表名单独创建，避免多表共用索引名冲突。
type SyncedRecord struct {
	ID           int64  `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	ConnectionID int64  `gorm:"index" json:"connection_id"`
	ExternalID   string `gorm:"size:128" json:"external_id"`

	// 远端返回的完整 JSON 对象，schema-on-read，引擎不做静态化
	Data datatypes.JSON `json:"data"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
