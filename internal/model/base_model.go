package model

import "time"

// BaseModel 公共字段
// 同步引擎不做软删除：远端记录只增不删，本地行随连接级联清理
type BaseModel struct {
	ID        int64     `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
