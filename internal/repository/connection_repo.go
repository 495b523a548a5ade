package repository

import (
	"context"
	"time"

	"data_sync_v1_202608/internal/model"

	"gorm.io/gorm"
)

// ==================== ConnectionRepository 连接仓库 ====================

// ConnectionRepository 连接仓库接口
type ConnectionRepository interface {
	Create(ctx context.Context, conn *model.Connection) error
	GetByID(ctx context.Context, id int64) (*model.Connection, error)
	ListActive(ctx context.Context) ([]model.Connection, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdateTestResult(ctx context.Context, id int64, ok bool, message string) error

	// DeleteCascade 删除连接并级联清理进度、日志与各实体表中的已同步行
	// recordTables: 目录中全部落库表名
	DeleteCascade(ctx context.Context, id int64, recordTables []string) error
}

type connectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository 创建连接仓库
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Create(ctx context.Context, conn *model.Connection) error {
	return r.db.WithContext(ctx).Create(conn).Error
}

func (r *connectionRepository) GetByID(ctx context.Context, id int64) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.WithContext(ctx).First(&conn, id).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) ListActive(ctx context.Context) ([]model.Connection, error) {
	var conns []model.Connection
	err := r.db.WithContext(ctx).
		Where("status = ?", model.ConnectionStatusActive).
		Order("id ASC").
		Find(&conns).Error
	return conns, err
}

func (r *connectionRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).Model(&model.Connection{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *connectionRepository) UpdateTestResult(ctx context.Context, id int64, ok bool, message string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Connection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_test_at":      &now,
			"last_test_ok":      ok,
			"last_test_message": message,
		}).Error
}

func (r *connectionRepository) DeleteCascade(ctx context.Context, id int64, recordTables []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, tbl := range recordTables {
			if err := tx.Table(tbl).Where("connection_id = ?", id).Delete(&model.SyncedRecord{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("connection_id = ?", id).Delete(&model.OrderDetail{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&model.ExtractionProgress{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&model.ExtractionLog{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Connection{}, id).Error
	})
}
