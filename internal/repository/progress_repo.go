package repository

import (
	"context"
	"errors"
	"time"

	"data_sync_v1_202608/internal/model"

	"gorm.io/gorm"
)

// ==================== ProgressRepository 进度仓库 ====================

// ProgressRepository 抽取进度仓库接口
type ProgressRepository interface {
	// GetOrCreate 获取 (连接, 实体) 的进度行，首次同步时创建
	GetOrCreate(ctx context.Context, connectionID int64, entity string) (*model.ExtractionProgress, error)
	Get(ctx context.Context, connectionID int64, entity string) (*model.ExtractionProgress, error)

	// Checkpoint 落盘检查点：offset、完成标志与权威总数
	Checkpoint(ctx context.Context, connectionID int64, entity string, offset int, complete bool, total int) error

	// Touch 更新最近同步时间与下次计划时间
	Touch(ctx context.Context, connectionID int64, entity string, next *time.Time) error

	// Reset 清零检查点（force_reset 时调用）
	Reset(ctx context.Context, connectionID int64, entity string) error
}

type progressRepository struct {
	db *gorm.DB
}

// NewProgressRepository 创建进度仓库
func NewProgressRepository(db *gorm.DB) ProgressRepository {
	return &progressRepository{db: db}
}

func (r *progressRepository) GetOrCreate(ctx context.Context, connectionID int64, entity string) (*model.ExtractionProgress, error) {
	prog, err := r.Get(ctx, connectionID, entity)
	if err == nil {
		return prog, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	prog = &model.ExtractionProgress{
		ConnectionID: connectionID,
		Entity:       entity,
	}
	if err := r.db.WithContext(ctx).Create(prog).Error; err != nil {
		return nil, err
	}
	return prog, nil
}

func (r *progressRepository) Get(ctx context.Context, connectionID int64, entity string) (*model.ExtractionProgress, error) {
	var prog model.ExtractionProgress
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND entity = ?", connectionID, entity).
		First(&prog).Error
	if err != nil {
		return nil, err
	}
	return &prog, nil
}

func (r *progressRepository) Checkpoint(ctx context.Context, connectionID int64, entity string, offset int, complete bool, total int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.ExtractionProgress{}).
		Where("connection_id = ? AND entity = ?", connectionID, entity).
		Updates(map[string]interface{}{
			"last_offset":   offset,
			"is_complete":   complete,
			"total_records": total,
			"last_sync_at":  &now,
		}).Error
}

func (r *progressRepository) Touch(ctx context.Context, connectionID int64, entity string, next *time.Time) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.ExtractionProgress{}).
		Where("connection_id = ? AND entity = ?", connectionID, entity).
		Updates(map[string]interface{}{
			"last_sync_at": &now,
			"next_sync_at": next,
		}).Error
}

func (r *progressRepository) Reset(ctx context.Context, connectionID int64, entity string) error {
	return r.db.WithContext(ctx).Model(&model.ExtractionProgress{}).
		Where("connection_id = ? AND entity = ?", connectionID, entity).
		Updates(map[string]interface{}{
			"last_offset":   0,
			"is_complete":   false,
			"total_records": 0,
		}).Error
}
