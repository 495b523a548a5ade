package service

import (
	"context"
	"testing"

	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/internal/repository"
	"data_sync_v1_202608/pkg/database"
	"data_sync_v1_202608/pkg/httpclient"

	"github.com/go-resty/resty/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ==================== 测试辅助 ====================

// setupSyncTestDB 建内存库并迁移全部模型与指定落库表
func setupSyncTestDB(t *testing.T, recordTables ...string) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}

	err = db.AutoMigrate(
		&model.Connection{},
		&model.Endpoint{},
		&model.ExtractionProgress{},
		&model.ExtractionLog{},
		&model.OrderDetail{},
	)
	if err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	if err := database.MigrateRecordTables(db, &model.SyncedRecord{}, recordTables); err != nil {
		t.Fatalf("落库表迁移失败: %v", err)
	}

	return db
}

// stubProvider 把所有连接都指向测试服务器
type stubProvider struct {
	base string
}

func (p *stubProvider) Get(info httpclient.ConnectionInfo) *resty.Client {
	return resty.New().
		SetBaseURL(p.base).
		SetAuthToken(info.GetAccessToken())
}

// seedConnection 创建一条活跃连接
func seedConnection(t *testing.T, db *gorm.DB) *model.Connection {
	t.Helper()

	conn := &model.Connection{
		TenantID:    1,
		Name:        "测试连接",
		Environment: model.EnvDevelopment,
		AccessToken: "test-token",
		Status:      model.ConnectionStatusActive,
	}
	if err := db.Create(conn).Error; err != nil {
		t.Fatalf("创建连接失败: %v", err)
	}
	return conn
}

// seedEndpoints 播种指定目录
func seedEndpoints(t *testing.T, db *gorm.DB, endpoints []model.Endpoint) {
	t.Helper()

	repo := repository.NewEndpointRepository(db)
	if err := repo.Seed(context.Background(), endpoints); err != nil {
		t.Fatalf("目录播种失败: %v", err)
	}
}

// newTestEngine 在内存库与测试服务器之上组装引擎
func newTestEngine(db *gorm.DB, baseURL string) *SyncEngine {
	return NewSyncEngine(&EngineDeps{
		ConnRepo:     repository.NewConnectionRepository(db),
		EndpointRepo: repository.NewEndpointRepository(db),
		ProgressRepo: repository.NewProgressRepository(db),
		LogRepo:      repository.NewLogRepository(db),
		RecordRepo:   repository.NewRecordRepository(db),
		DetailRepo:   repository.NewOrderDetailRepository(db),
		Clients:      &stubProvider{base: baseURL},
	})
}
