package task

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"data_sync_v1_202608/internal/api/dto"
	"data_sync_v1_202608/internal/repository"
	"data_sync_v1_202608/internal/service"
)

// ==================== ExtractionTask 定时抽取任务 ====================

// ExtractionTask 周期性对所有活跃连接执行增量抽取
// 每个连接一次引擎调用即一个预算片；未完成的实体靠检查点在下个周期续跑
type ExtractionTask struct {
	connRepo repository.ConnectionRepository
	engine   *service.SyncEngine
	cron     *cron.Cron

	// 并发控制
	concurrencyLimit int
	sleepTime        time.Duration
}

// NewExtractionTask 创建抽取任务
func NewExtractionTask(
	connRepo repository.ConnectionRepository,
	engine *service.SyncEngine,
) *ExtractionTask {
	return &ExtractionTask{
		connRepo:         connRepo,
		engine:           engine,
		cron:             cron.New(cron.WithSeconds()),
		concurrencyLimit: 5,
		sleepTime:        200 * time.Millisecond,
	}
}

// SetConcurrency 设置并发参数
func (t *ExtractionTask) SetConcurrency(limit int, sleep time.Duration) {
	if limit > 0 {
		t.concurrencyLimit = limit
	}
	t.sleepTime = sleep
}

// Start 启动定时任务
func (t *ExtractionTask) Start() {
	// 首次执行
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		log.Println("[ExtractionTask] 执行首次增量抽取...")
		t.syncAllConnections(ctx)
	}()

	// 每 10 分钟执行
	_, err := t.cron.AddFunc("0 */10 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		t.syncAllConnections(ctx)
	})
	if err != nil {
		log.Printf("[ExtractionTask] 定时任务启动失败: %v", err)
		return
	}

	t.cron.Start()
	log.Println("[ExtractionTask] 已启动 (每10分钟)")
}

// Stop 停止任务
func (t *ExtractionTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[ExtractionTask] 已停止")
}

// syncAllConnections 对所有活跃连接各跑一个预算片
func (t *ExtractionTask) syncAllConnections(ctx context.Context) {
	log.Println("[ExtractionTask] 开始增量抽取...")

	conns, err := t.connRepo.ListActive(ctx)
	if err != nil {
		log.Printf("[ExtractionTask] 获取连接列表失败: %v", err)
		return
	}

	if len(conns) == 0 {
		log.Println("[ExtractionTask] 无活跃连接需要同步")
		return
	}

	sem := make(chan struct{}, t.concurrencyLimit)
	var wg sync.WaitGroup

	var (
		totalProcessed int
		totalCreated   int
		totalUpdated   int
		totalErrors    int
		mu             sync.Mutex
	)

	log.Printf("[ExtractionTask] 开始处理 %d 个连接", len(conns))

	for i := range conns {
		conn := conns[i]
		select {
		case <-ctx.Done():
			log.Println("[ExtractionTask] 任务超时停止")
			wg.Wait()
			return
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		time.Sleep(t.sleepTime)

		go func(connID int64, connName string) {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := t.engine.Run(ctx, connID, &dto.SyncRequest{})

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				log.Printf("[ExtractionTask] 连接 %s(%d) 同步失败: %v", connName, connID, err)
				totalErrors++
				return
			}

			totalProcessed += resp.Processed
			totalCreated += resp.Created
			totalUpdated += resp.Updated

			if resp.NothingPending {
				return
			}

			log.Printf("[ExtractionTask] 连接 %s: 处理 %d, 新增 %d, 更新 %d",
				connName, resp.Processed, resp.Created, resp.Updated)

			for _, e := range resp.Entities {
				if !e.Success && e.Message != "" {
					log.Printf("[ExtractionTask] 连接 %s 实体 %s: %s", connName, e.Entity, e.Message)
				}
			}
		}(conn.ID, conn.Name)
	}

	wg.Wait()
	log.Printf("[ExtractionTask] 抽取完成: 连接 %d, 处理 %d, 新增 %d, 更新 %d, 错误 %d",
		len(conns), totalProcessed, totalCreated, totalUpdated, totalErrors)
}

// ==================== 手动触发 ====================

// SyncConnectionNow 立即同步单个连接
func (t *ExtractionTask) SyncConnectionNow(ctx context.Context, connectionID int64, req *dto.SyncRequest) (*dto.SyncResponse, error) {
	return t.engine.Run(ctx, connectionID, req)
}

// SyncAllNow 立即同步所有活跃连接
func (t *ExtractionTask) SyncAllNow() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		t.syncAllConnections(ctx)
	}()
}
