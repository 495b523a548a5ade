package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"data_sync_v1_202608/internal/controller"
	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/internal/repository"
	"data_sync_v1_202608/internal/router"
	"data_sync_v1_202608/internal/service"
	"data_sync_v1_202608/internal/task"
	"data_sync_v1_202608/pkg/database"
	"data_sync_v1_202608/pkg/httpclient"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	// 1. 初始化数据库
	db := initDatabase()

	// 2. 初始化依赖
	deps := initDependencies(db)

	// 3. 启动定时任务
	deps.TaskManager.Start()
	defer deps.TaskManager.Stop()

	// 4. 初始化路由
	r := router.SetupRouter(deps.Controllers)

	// 5. 启动服务
	startServer(r)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB          *gorm.DB
	Repos       *Repositories
	Engine      *service.SyncEngine
	TaskManager *task.TaskManager
	Controllers *router.Controllers
}

// Repositories 仓库集合
type Repositories struct {
	Connection  repository.ConnectionRepository
	Endpoint    repository.EndpointRepository
	Progress    repository.ProgressRepository
	Log         repository.LogRepository
	Record      repository.RecordRepository
	OrderDetail repository.OrderDetailRepository
}

// ==================== 初始化函数 ====================

// initDatabase 初始化数据库
func initDatabase() *gorm.DB {
	dsn := getEnv("DATABASE_DSN",
		"host=localhost user=postgres password=postgres dbname=data_sync port=5432 sslmode=disable TimeZone=UTC")

	db := database.InitDB(dsn,
		// 连接与目录
		&model.Connection{}, &model.Endpoint{},
		// 进度与审计
		&model.ExtractionProgress{}, &model.ExtractionLog{},
		// 明细
		&model.OrderDetail{},
	)

	// 目录播种
	endpointRepo := repository.NewEndpointRepository(db)
	if err := endpointRepo.Seed(context.Background(), model.DefaultEndpoints()); err != nil {
		log.Fatalf("目录播种失败: %v", err)
	}

	// 各分页实体的落库表（结构相同，表名来自目录）
	endpoints, err := endpointRepo.ListEnabled(context.Background())
	if err != nil {
		log.Fatalf("读取目录失败: %v", err)
	}
	tables := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if !ep.PerParent() {
			tables = append(tables, ep.TargetTable)
		}
	}
	if err := database.MigrateRecordTables(db, &model.SyncedRecord{}, tables); err != nil {
		log.Fatalf("落库表迁移失败: %v", err)
	}

	return db
}

// initDependencies 初始化所有依赖
func initDependencies(db *gorm.DB) *Dependencies {
	// -------- Repo 层 --------
	repos := initRepositories(db)

	// -------- 引擎 --------
	engine := service.NewSyncEngine(&service.EngineDeps{
		ConnRepo:     repos.Connection,
		EndpointRepo: repos.Endpoint,
		ProgressRepo: repos.Progress,
		LogRepo:      repos.Log,
		RecordRepo:   repos.Record,
		DetailRepo:   repos.OrderDetail,
		Clients:      httpclient.NewProvider(),
	})

	// -------- 任务层 --------
	taskManager := task.NewTaskManager(&task.TaskManagerDeps{
		ConnRepo: repos.Connection,
		Engine:   engine,
	}, nil)

	// -------- Controller 层 --------
	controllers := &router.Controllers{
		Sync:       controller.NewSyncController(taskManager, engine, repos.Connection, repos.Log),
		Connection: controller.NewConnectionController(repos.Connection, repos.Endpoint),
	}

	return &Dependencies{
		DB:          db,
		Repos:       repos,
		Engine:      engine,
		TaskManager: taskManager,
		Controllers: controllers,
	}
}

// initRepositories 初始化所有仓库
func initRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Connection:  repository.NewConnectionRepository(db),
		Endpoint:    repository.NewEndpointRepository(db),
		Progress:    repository.NewProgressRepository(db),
		Log:         repository.NewLogRepository(db),
		Record:      repository.NewRecordRepository(db),
		OrderDetail: repository.NewOrderDetailRepository(db),
	}
}

// ==================== 服务启动 ====================

// startServer 启动服务
func startServer(r *gin.Engine) {
	port := getEnv("SERVER_PORT", "8080")

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Printf("服务启动在 :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 优雅关闭，最多等待 30 秒
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务强制关闭: %v", err)
	}

	log.Println("服务已退出")
}

// ==================== 工具函数 ====================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
