package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/internal/repository"
	"data_sync_v1_202608/internal/service"
	"data_sync_v1_202608/internal/task"
	"data_sync_v1_202608/pkg/database"
	"data_sync_v1_202608/pkg/httpclient"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ==================== 测试辅助 ====================

type ctlStubProvider struct{ base string }

func (p *ctlStubProvider) Get(httpclient.ConnectionInfo) *resty.Client {
	return resty.New().SetBaseURL(p.base)
}

type ctlFixture struct {
	db       *gorm.DB
	router   *gin.Engine
	connRepo repository.ConnectionRepository
}

func setupCtlFixture(t *testing.T, remoteURL string) *ctlFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	err = db.AutoMigrate(
		&model.Connection{}, &model.Endpoint{},
		&model.ExtractionProgress{}, &model.ExtractionLog{}, &model.OrderDetail{},
	)
	if err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	endpointRepo := repository.NewEndpointRepository(db)
	if err := endpointRepo.Seed(context.Background(), model.DefaultEndpoints()); err != nil {
		t.Fatalf("目录播种失败: %v", err)
	}
	tables := []string{"synced_customers", "synced_products", "synced_orders", "synced_payments"}
	if err := database.MigrateRecordTables(db, &model.SyncedRecord{}, tables); err != nil {
		t.Fatalf("落库表迁移失败: %v", err)
	}

	connRepo := repository.NewConnectionRepository(db)
	logRepo := repository.NewLogRepository(db)

	engine := service.NewSyncEngine(&service.EngineDeps{
		ConnRepo:     connRepo,
		EndpointRepo: endpointRepo,
		ProgressRepo: repository.NewProgressRepository(db),
		LogRepo:      logRepo,
		RecordRepo:   repository.NewRecordRepository(db),
		DetailRepo:   repository.NewOrderDetailRepository(db),
		Clients:      &ctlStubProvider{base: remoteURL},
	})
	taskManager := task.NewTaskManager(&task.TaskManagerDeps{ConnRepo: connRepo, Engine: engine}, nil)

	syncCtl := NewSyncController(taskManager, engine, connRepo, logRepo)
	connCtl := NewConnectionController(connRepo, endpointRepo)

	// 与生产路由同构，但不挂鉴权与限流
	r := gin.New()
	conns := r.Group("/api/v1/sync/connections")
	{
		conns.POST("/create", connCtl.Create)
		conns.GET("/:id", connCtl.Get)
		conns.DELETE("/:id", connCtl.Delete)
		conns.POST("/:id", syncCtl.TriggerSync)
		conns.GET("/:id/status", syncCtl.Status)
		conns.GET("/:id/logs", syncCtl.Logs)
		conns.GET("/:id/logs/:run_id", syncCtl.RunDetail)
		conns.POST("/:id/test", syncCtl.TestConnection)
	}

	return &ctlFixture{db: db, router: r, connRepo: connRepo}
}

func (f *ctlFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	return w
}

// ==================== SyncController 测试 ====================

func TestSyncController_InvalidID(t *testing.T) {
	f := setupCtlFixture(t, "http://127.0.0.1:0")

	if w := f.do(t, http.MethodPost, "/api/v1/sync/connections/abc", nil); w.Code != 400 {
		t.Errorf("非法 ID 应 400, 得到 %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/sync/connections/999/status", nil); w.Code != 404 {
		t.Errorf("不存在的连接应 404, 得到 %d", w.Code)
	}
}

func TestSyncController_TriggerAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			fmt.Fprint(w, `{"status":"ok"}`)
		case "/customers":
			if r.URL.Query().Get("offset") != "0" {
				fmt.Fprint(w, `{"count":2,"results":[]}`)
				return
			}
			fmt.Fprint(w, `{"count":2,"results":[{"customer_id":1},{"customer_id":2}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := setupCtlFixture(t, server.URL)
	conn := &model.Connection{Name: "测试", AccessToken: "t", Status: model.ConnectionStatusActive}
	if err := f.connRepo.Create(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	// 指定实体触发
	path := fmt.Sprintf("/api/v1/sync/connections/%d", conn.ID)
	w := f.do(t, http.MethodPost, path, map[string]interface{}{"entity": "customers"})
	if w.Code != 200 {
		t.Fatalf("触发失败: %d %s", w.Code, w.Body.String())
	}

	var trigger struct {
		Data struct {
			Processed int  `json:"processed"`
			Success   bool `json:"success"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &trigger); err != nil {
		t.Fatal(err)
	}
	if !trigger.Data.Success || trigger.Data.Processed != 2 {
		t.Errorf("触发结果错误: %s", w.Body.String())
	}

	// 状态查询
	w = f.do(t, http.MethodGet, path+"/status", nil)
	if w.Code != 200 {
		t.Fatalf("状态查询失败: %d", w.Code)
	}
	var status struct {
		Data struct {
			Entities []struct {
				Entity     string `json:"entity"`
				IsComplete bool   `json:"is_complete"`
			} `json:"entities"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if len(status.Data.Entities) != 5 {
		t.Fatalf("应返回全部目录实体: %s", w.Body.String())
	}
	if status.Data.Entities[0].Entity != "customers" || !status.Data.Entities[0].IsComplete {
		t.Errorf("customers 应排在最前且已完成: %s", w.Body.String())
	}

	// 审计日志
	w = f.do(t, http.MethodGet, path+"/logs", nil)
	if w.Code != 200 {
		t.Fatalf("日志查询失败: %d", w.Code)
	}
	var logsResp struct {
		Data []struct {
			RunID string `json:"run_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &logsResp); err != nil {
		t.Fatal(err)
	}
	if len(logsResp.Data) == 0 || logsResp.Data[0].RunID == "" {
		t.Fatalf("日志应带运行标识: %s", w.Body.String())
	}

	// 按运行标识查询单次运行
	w = f.do(t, http.MethodGet, path+"/logs/"+logsResp.Data[0].RunID, nil)
	if w.Code != 200 {
		t.Fatalf("运行详情查询失败: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodGet, path+"/logs/no-such-run", nil); w.Code != 404 {
		t.Errorf("未知运行标识应 404, 得到 %d", w.Code)
	}

	// 连通性探测
	w = f.do(t, http.MethodPost, path+"/test", nil)
	if w.Code != 200 {
		t.Fatalf("探测失败: %d %s", w.Code, w.Body.String())
	}
}

// ==================== ConnectionController 测试 ====================

func TestConnectionController_CreateAndDelete(t *testing.T) {
	f := setupCtlFixture(t, "http://127.0.0.1:0")

	// 创建
	w := f.do(t, http.MethodPost, "/api/v1/sync/connections/create", map[string]interface{}{
		"name":         "新连接",
		"environment":  "development",
		"access_token": "tok",
	})
	if w.Code != 200 {
		t.Fatalf("创建失败: %d %s", w.Code, w.Body.String())
	}

	var created struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Data.ID == 0 {
		t.Fatalf("创建未返回 ID: %s", w.Body.String())
	}

	// 必填字段缺失
	w = f.do(t, http.MethodPost, "/api/v1/sync/connections/create", map[string]interface{}{"name": "缺 token"})
	if w.Code != 400 {
		t.Errorf("缺少必填字段应 400, 得到 %d", w.Code)
	}

	// 非法环境
	w = f.do(t, http.MethodPost, "/api/v1/sync/connections/create", map[string]interface{}{
		"name": "x", "access_token": "t", "environment": "staging",
	})
	if w.Code != 400 {
		t.Errorf("非法环境应 400, 得到 %d", w.Code)
	}

	// 删除
	path := fmt.Sprintf("/api/v1/sync/connections/%d", created.Data.ID)
	if w := f.do(t, http.MethodDelete, path, nil); w.Code != 200 {
		t.Fatalf("删除失败: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodGet, path, nil); w.Code != 404 {
		t.Errorf("删除后应 404, 得到 %d", w.Code)
	}
}
