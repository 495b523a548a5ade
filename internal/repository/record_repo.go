package repository

import (
	"context"

	"data_sync_v1_202608/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ==================== RecordRepository 已同步记录仓库 ====================

// RecordRepository 已同步记录仓库接口
// 所有方法带 table 参数：每种实体一张表，结构相同，运行时动态绑定
type RecordRepository interface {
	// ExistingIDs 查询候选批次中已存在的外部标识（限定连接内）
	ExistingIDs(ctx context.Context, table string, connectionID int64, externalIDs []string) (map[string]bool, error)

	// BatchUpsert 以 (connection_id, external_id) 为键幂等写入，
	// 冲突时覆盖 data 与 updated_at，重复投递对最终状态无影响
	BatchUpsert(ctx context.Context, table string, records []model.SyncedRecord) error

	CountByConnection(ctx context.Context, table string, connectionID int64) (int64, error)

	// ListPage 按主键顺序分页读取（供依赖实体选取父记录）
	ListPage(ctx context.Context, table string, connectionID int64, offset, limit int) ([]model.SyncedRecord, error)
}

type recordRepository struct {
	db *gorm.DB
}

// NewRecordRepository 创建记录仓库
func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &recordRepository{db: db}
}

func (r *recordRepository) ExistingIDs(ctx context.Context, table string, connectionID int64, externalIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(externalIDs))
	if len(externalIDs) == 0 {
		return existing, nil
	}

	var found []string
	err := r.db.WithContext(ctx).Table(table).
		Where("connection_id = ? AND external_id IN ?", connectionID, externalIDs).
		Pluck("external_id", &found).Error
	if err != nil {
		return nil, err
	}

	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

func (r *recordRepository) BatchUpsert(ctx context.Context, table string, records []model.SyncedRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Table(table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&records).Error
}

func (r *recordRepository) CountByConnection(ctx context.Context, table string, connectionID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Table(table).
		Where("connection_id = ?", connectionID).
		Count(&count).Error
	return count, err
}

func (r *recordRepository) ListPage(ctx context.Context, table string, connectionID int64, offset, limit int) ([]model.SyncedRecord, error) {
	var records []model.SyncedRecord
	err := r.db.WithContext(ctx).Table(table).
		Where("connection_id = ?", connectionID).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	return records, err
}
