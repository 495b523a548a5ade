package repository

import (
	"context"
	"time"

	"data_sync_v1_202608/internal/model"

	"gorm.io/gorm"
)

// ==================== LogRepository 审计日志仓库 ====================

// LogRepository 抽取审计日志仓库接口
type LogRepository interface {
	Create(ctx context.Context, entry *model.ExtractionLog) error

	// UpdateCounts 长任务运行中周期性刷新累计计数，暴露实时进度
	UpdateCounts(ctx context.Context, id int64, processed, created, updated, skipped int) error

	// Finish 将 running 收敛为 success / error 终态
	Finish(ctx context.Context, id int64, status string, processed, created, updated, skipped int, durationMs int64, message string) error

	GetByRunID(ctx context.Context, runID string) (*model.ExtractionLog, error)
	ListByConnection(ctx context.Context, connectionID int64, limit int) ([]model.ExtractionLog, error)
}

type logRepository struct {
	db *gorm.DB
}

// NewLogRepository 创建日志仓库
func NewLogRepository(db *gorm.DB) LogRepository {
	return &logRepository{db: db}
}

func (r *logRepository) Create(ctx context.Context, entry *model.ExtractionLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *logRepository) UpdateCounts(ctx context.Context, id int64, processed, created, updated, skipped int) error {
	return r.db.WithContext(ctx).Model(&model.ExtractionLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed": processed,
			"created":   created,
			"updated":   updated,
			"skipped":   skipped,
		}).Error
}

func (r *logRepository) Finish(ctx context.Context, id int64, status string, processed, created, updated, skipped int, durationMs int64, message string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.ExtractionLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"processed":   processed,
			"created":     created,
			"updated":     updated,
			"skipped":     skipped,
			"duration_ms": durationMs,
			"message":     message,
			"finished_at": &now,
		}).Error
}

func (r *logRepository) GetByRunID(ctx context.Context, runID string) (*model.ExtractionLog, error) {
	var entry model.ExtractionLog
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *logRepository) ListByConnection(ctx context.Context, connectionID int64, limit int) ([]model.ExtractionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []model.ExtractionLog
	err := r.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Order("started_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
