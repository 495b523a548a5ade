package repository

import (
	"context"

	"data_sync_v1_202608/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ==================== OrderDetailRepository 订单明细仓库 ====================

// OrderDetailRepository 订单明细仓库接口
type OrderDetailRepository interface {
	// GetStates 批量查询候选父订单的明细同步状态
	GetStates(ctx context.Context, connectionID int64, externalIDs []string) (map[string]model.OrderDetail, error)

	// BatchUpsert 幂等写入明细，冲突时覆盖 data、status、details_synced_at
	BatchUpsert(ctx context.Context, details []model.OrderDetail) error

	CountByConnection(ctx context.Context, connectionID int64) (int64, error)
}

type orderDetailRepository struct {
	db *gorm.DB
}

// NewOrderDetailRepository 创建订单明细仓库
func NewOrderDetailRepository(db *gorm.DB) OrderDetailRepository {
	return &orderDetailRepository{db: db}
}

func (r *orderDetailRepository) GetStates(ctx context.Context, connectionID int64, externalIDs []string) (map[string]model.OrderDetail, error) {
	states := make(map[string]model.OrderDetail, len(externalIDs))
	if len(externalIDs) == 0 {
		return states, nil
	}

	var details []model.OrderDetail
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND external_id IN ?", connectionID, externalIDs).
		Find(&details).Error
	if err != nil {
		return nil, err
	}

	for _, d := range details {
		states[d.ExternalID] = d
	}
	return states, nil
}

func (r *orderDetailRepository) BatchUpsert(ctx context.Context, details []model.OrderDetail) error {
	if len(details) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "status", "details_synced_at", "updated_at"}),
	}).Create(&details).Error
}

func (r *orderDetailRepository) CountByConnection(ctx context.Context, connectionID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.OrderDetail{}).
		Where("connection_id = ?", connectionID).
		Count(&count).Error
	return count, err
}
