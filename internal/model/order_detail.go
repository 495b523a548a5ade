package model

import (
	"time"

	"gorm.io/datatypes"
)

// ==================== OrderDetail 订单明细 ====================

// OrderDetail 依赖父订单逐条拉取的明细记录
// 在 SyncedRecord 的基础上多出父订单状态与明细拉取时间，
// 二者共同决定该行是否需要重新拉取
type OrderDetail struct {
	ID           int64  `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	ConnectionID int64  `gorm:"index;uniqueIndex:idx_detail_conn_external" json:"connection_id"`
	ExternalID   string `gorm:"size:128;uniqueIndex:idx_detail_conn_external" json:"external_id"`

	// 父订单状态档位：active / settled / terminal
	Status string `gorm:"size:16;index" json:"status"`

	Data datatypes.JSON `json:"data"`

	// 最近一次成功拉取明细的时间，空表示从未拉取
	DetailsSyncedAt *time.Time `json:"details_synced_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OrderDetail) TableName() string {
	return "synced_order_details"
}

// 父订单状态档位
// active 短周期重拉，settled 长周期重拉，terminal 不再重拉
const (
	DetailTierActive   = "active"
	DetailTierSettled  = "settled"
	DetailTierTerminal = "terminal"
)

// DetailTierOf 将远端订单状态归入重拉档位
func DetailTierOf(remoteStatus string) string {
	switch remoteStatus {
	case "open", "active", "processing", "pending":
		return DetailTierActive
	case "settled", "completed", "shipped", "delivered":
		return DetailTierSettled
	case "canceled", "cancelled", "refunded", "closed", "expired":
		return DetailTierTerminal
	}
	// 未知状态按 active 处理，宁可多拉不可漏拉
	return DetailTierActive
}
