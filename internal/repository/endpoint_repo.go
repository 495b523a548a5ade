package repository

import (
	"context"

	"data_sync_v1_202608/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ==================== EndpointRepository 目录仓库 ====================

// EndpointRepository 远程资源目录仓库接口（同步时只读）
type EndpointRepository interface {
	GetByEntity(ctx context.Context, entity string) (*model.Endpoint, error)
	ListEnabled(ctx context.Context) ([]model.Endpoint, error)

	// Seed 写入内置目录，已存在的实体不覆盖（运维可能改过页大小等参数）
	Seed(ctx context.Context, endpoints []model.Endpoint) error
}

type endpointRepository struct {
	db *gorm.DB
}

// NewEndpointRepository 创建目录仓库
func NewEndpointRepository(db *gorm.DB) EndpointRepository {
	return &endpointRepository{db: db}
}

func (r *endpointRepository) GetByEntity(ctx context.Context, entity string) (*model.Endpoint, error) {
	var ep model.Endpoint
	err := r.db.WithContext(ctx).Where("entity = ?", entity).First(&ep).Error
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

func (r *endpointRepository) ListEnabled(ctx context.Context) ([]model.Endpoint, error) {
	var eps []model.Endpoint
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority ASC").
		Find(&eps).Error
	return eps, err
}

func (r *endpointRepository) Seed(ctx context.Context, endpoints []model.Endpoint) error {
	if len(endpoints) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity"}},
		DoNothing: true,
	}).Create(&endpoints).Error
}
