package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"data_sync_v1_202608/internal/api/dto"
	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/internal/repository"
	"data_sync_v1_202608/pkg/httpclient"

	"github.com/google/uuid"
)

// 单次调用的墙钟预算，须明显低于外部触发方自身的超时
const defaultBudget = 25 * time.Second

// 预算余量低于该值时不再开启下一个实体
const minEntityBudget = 2 * time.Second

// 连通性探测路径
const probePath = "/ping"

// ==================== SyncEngine 同步引擎 ====================

// SyncEngine 增量抽取引擎
// 每次调用是一个无状态、受时限约束的工作单元，跨调用状态全部落在进度表；
// 单实体内抓取与写入严格串行，检查点永远指向完整处理过的页
type SyncEngine struct {
	connRepo     repository.ConnectionRepository
	endpointRepo repository.EndpointRepository
	progressRepo repository.ProgressRepository
	logRepo      repository.LogRepository
	recordRepo   repository.RecordRepository
	detailRepo   repository.OrderDetailRepository

	fetcher   *PageFetcher
	batcher   *UpsertBatcher
	scheduler *EndpointScheduler
	detail    *OrderDetailSyncer
	clients   httpclient.ClientProvider

	budget     time.Duration
	staleAfter time.Duration
}

// EngineDeps 引擎依赖
type EngineDeps struct {
	ConnRepo     repository.ConnectionRepository
	EndpointRepo repository.EndpointRepository
	ProgressRepo repository.ProgressRepository
	LogRepo      repository.LogRepository
	RecordRepo   repository.RecordRepository
	DetailRepo   repository.OrderDetailRepository
	Clients      httpclient.ClientProvider
}

// NewSyncEngine 创建同步引擎
func NewSyncEngine(deps *EngineDeps) *SyncEngine {
	fetcher := NewPageFetcher(deps.Clients)
	return &SyncEngine{
		connRepo:     deps.ConnRepo,
		endpointRepo: deps.EndpointRepo,
		progressRepo: deps.ProgressRepo,
		logRepo:      deps.LogRepo,
		recordRepo:   deps.RecordRepo,
		detailRepo:   deps.DetailRepo,
		fetcher:      fetcher,
		batcher:      NewUpsertBatcher(deps.RecordRepo),
		scheduler:    NewEndpointScheduler(deps.EndpointRepo, deps.ProgressRepo, deps.RecordRepo, deps.DetailRepo),
		detail:       NewOrderDetailSyncer(deps.RecordRepo, deps.DetailRepo, fetcher),
		clients:      deps.Clients,
		budget:       defaultBudget,
		staleAfter:   defaultStaleAfter,
	}
}

// SetBudget 调整墙钟预算（测试用）
func (e *SyncEngine) SetBudget(d time.Duration) {
	if d > 0 {
		e.budget = d
	}
}

// Scheduler 暴露调度器供状态查询
func (e *SyncEngine) Scheduler() *EndpointScheduler {
	return e.scheduler
}

// Batcher 暴露写入器（测试用）
func (e *SyncEngine) Batcher() *UpsertBatcher {
	return e.batcher
}

// DetailSyncer 暴露明细同步器（调并发参数用）
func (e *SyncEngine) DetailSyncer() *OrderDetailSyncer {
	return e.detail
}

// ==================== 入口 ====================

// Run 对一个连接执行一次受预算约束的同步
// req.Entity 为空时由调度器连续挑选实体，直到无待办或预算耗尽
// 凭证/配置类错误直接返回 error，不触碰任何持久状态
func (e *SyncEngine) Run(ctx context.Context, connectionID int64, req *dto.SyncRequest) (*dto.SyncResponse, error) {
	start := time.Now()
	deadline := start.Add(e.budget)

	conn, err := e.connRepo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("连接不存在: %w", err)
	}
	if conn.AccessToken == "" {
		return nil, fmt.Errorf("连接 %d 缺少访问凭证", connectionID)
	}

	resp := &dto.SyncResponse{ConnectionID: connectionID, Success: true}

	if req.Entity != "" {
		// 指定实体
		ep, err := e.endpointRepo.GetByEntity(ctx, req.Entity)
		if err != nil {
			return nil, fmt.Errorf("未知实体 %s: %w", req.Entity, err)
		}
		if req.ForceReset {
			if err := e.progressRepo.Reset(ctx, connectionID, ep.Entity); err != nil {
				return nil, fmt.Errorf("重置检查点失败: %w", err)
			}
		}
		res := e.runEntity(ctx, conn, ep, deadline, req.Continue())
		e.aggregate(resp, res)
	} else {
		// 调度器逐个挑选
		ran := 0
		for {
			if time.Until(deadline) < minEntityBudget {
				break
			}
			st, err := e.scheduler.NextPending(ctx, conn)
			if err != nil {
				return nil, fmt.Errorf("调度失败: %w", err)
			}
			if st == nil {
				if ran == 0 {
					resp.NothingPending = true
					resp.Message = "没有待同步的实体"
				}
				break
			}

			res := e.runEntity(ctx, conn, &st.Endpoint, deadline, true)
			e.aggregate(resp, res)
			ran++

			// 未完成说明预算耗尽或出错，本次调用到此为止
			if !res.IsComplete {
				break
			}
		}
	}

	resp.DurationMs = time.Since(start).Milliseconds()
	return resp, nil
}

// aggregate 累加单实体结果
func (e *SyncEngine) aggregate(resp *dto.SyncResponse, res *dto.EntitySyncResult) {
	resp.Entities = append(resp.Entities, *res)
	resp.Processed += res.Processed
	resp.Created += res.Created
	resp.Updated += res.Updated
	resp.Skipped += res.Skipped
	if !res.Success {
		resp.Success = false
		if resp.Message == "" {
			resp.Message = res.Message
		}
	}
}

// ==================== 单实体同步 ====================

// runEntity 同步一个实体，内部消化所有可恢复错误，只通过结果上报
func (e *SyncEngine) runEntity(ctx context.Context, conn *model.Connection, ep *model.Endpoint, deadline time.Time, cont bool) *dto.EntitySyncResult {
	start := time.Now()
	result := &dto.EntitySyncResult{Entity: ep.Entity}

	prog, err := e.progressRepo.GetOrCreate(ctx, conn.ID, ep.Entity)
	if err != nil {
		result.Message = fmt.Sprintf("读取进度失败: %v", err)
		return result
	}

	offset := prog.LastOffset
	total := prog.TotalRecords
	if !cont {
		offset = 0
	}
	if prog.IsComplete {
		// 因陈旧缺口被重新排上：从头重过一遍，upsert 幂等不怕重放
		offset = 0
	}

	logEntry := &model.ExtractionLog{
		RunID:        uuid.NewString(),
		ConnectionID: conn.ID,
		Entity:       ep.Entity,
		Status:       model.LogStatusRunning,
		StartedAt:    start,
	}
	if err := e.logRepo.Create(ctx, logEntry); err != nil {
		log.Printf("[SyncEngine] 创建审计日志失败: %v", err)
	}

	var (
		counts   BatchResult
		complete bool
		timedOut bool
		runErr   error
	)

	if ep.PerParent() {
		counts, complete, runErr = e.runDetailEntity(ctx, conn, ep, deadline)
		// 明细不走分页检查点，offset 与总数一律归零
		offset, total = 0, 0
	} else {
		counts, offset, total, complete, timedOut, runErr = e.runPaginated(ctx, conn, ep, logEntry.ID, offset, total, deadline)
	}

	durationMs := time.Since(start).Milliseconds()
	result.Processed = counts.Processed
	result.Created = counts.Created
	result.Updated = counts.Updated
	result.Skipped = counts.Skipped
	result.IsComplete = complete
	result.TotalRecords = total
	result.FinalOffset = offset
	result.DurationMs = durationMs

	// -------- 抓取失败：检查点保持原样，同一 offset 可安全重试 --------
	if runErr != nil {
		result.Message = runErr.Error()
		e.finishLog(ctx, logEntry.ID, model.LogStatusError, &counts, durationMs, runErr.Error())
		return result
	}

	// -------- 落盘检查点与计划时间 --------
	if err := e.progressRepo.Checkpoint(ctx, conn.ID, ep.Entity, offset, complete, total); err != nil {
		log.Printf("[SyncEngine] 实体 %s 检查点落盘失败: %v", ep.Entity, err)
	}
	var next *time.Time
	if complete {
		t := time.Now().Add(e.staleAfter)
		next = &t
	}
	if err := e.progressRepo.Touch(ctx, conn.ID, ep.Entity, next); err != nil {
		log.Printf("[SyncEngine] 实体 %s 更新同步时间失败: %v", ep.Entity, err)
	}

	if complete {
		result.Success = true
		msg := e.validate(ctx, conn.ID, ep, total)
		e.finishLog(ctx, logEntry.ID, model.LogStatusSuccess, &counts, durationMs, msg)
		return result
	}

	// 预算耗尽是设计内的停机，不是故障；日志记 error 只为标记"未完成"
	msg := fmt.Sprintf("%d/%d 已处理，下次从 offset=%d 继续", offset, total, offset)
	if timedOut {
		msg = "时间预算耗尽，" + msg
	}
	result.Message = msg
	e.finishLog(ctx, logEntry.ID, model.LogStatusError, &counts, durationMs, msg)
	return result
}

// runPaginated 驱动分页抓取循环
// 每页抓取前、每个子批写入前都检查预算；页处理完立即落盘检查点
func (e *SyncEngine) runPaginated(ctx context.Context, conn *model.Connection, ep *model.Endpoint, logID int64, offset, total int, deadline time.Time) (BatchResult, int, int, bool, bool, error) {
	var counts BatchResult
	complete := false
	timedOut := false

	for {
		if time.Now().After(deadline) {
			timedOut = true
			break
		}

		page, err := e.fetcher.FetchPage(ctx, conn, ep, offset)
		if err != nil {
			return counts, offset, total, false, false, err
		}

		if page.HasTotal {
			// 远端上报的总数是权威值：短页不代表结束，只有 offset 追上总数才算
			total = page.Total
		}

		if len(page.Records) == 0 {
			// 空页即终点；此前上报的总数已无数据支撑，收敛到实际
			// 到达的 offset，完成态下 offset >= total 恒成立
			if total > offset {
				total = offset
			}
			complete = true
			break
		}

		pageCounts, exhausted := e.processPage(ctx, conn.ID, ep, page.Records, deadline)
		counts.Add(&pageCounts)
		// offset 指向下一个请求窗口的起点，按窗口推进而非按实收条数：
		// 短页只在尾页出现，实收口径交给完成后的行数核对
		offset += ep.EffectivePageSize()

		if page.Single {
			complete = true
		}
		if total > 0 && offset >= total {
			complete = true
		}

		if err := e.progressRepo.Checkpoint(ctx, conn.ID, ep.Entity, offset, complete, total); err != nil {
			log.Printf("[SyncEngine] 实体 %s 检查点落盘失败: %v", ep.Entity, err)
		}
		if err := e.logRepo.UpdateCounts(ctx, logID, counts.Processed, counts.Created, counts.Updated, counts.Skipped); err != nil {
			log.Printf("[SyncEngine] 审计日志刷新失败: %v", err)
		}

		if complete {
			break
		}
		if exhausted {
			timedOut = true
			break
		}
	}

	return counts, offset, total, complete, timedOut, nil
}

// processPage 将一页记录按子批写入
// 子批写入前检查预算；预算耗尽时把剩余记录尽力一次灌完（超时时刻
// 最多只有一次抓取和一次写入在途，浪费的工作量有上界）
func (e *SyncEngine) processPage(ctx context.Context, connectionID int64, ep *model.Endpoint, records []map[string]interface{}, deadline time.Time) (BatchResult, bool) {
	var result BatchResult
	step := e.batcher.BatchSize()

	for start := 0; start < len(records); start += step {
		if time.Now().After(deadline) {
			// 尽力排空：已抓到手的记录不浪费
			if res, err := e.batcher.Process(ctx, connectionID, ep, records[start:]); err != nil {
				log.Printf("[SyncEngine] 超时排空失败，丢弃 %d 条: %v", len(records)-start, err)
				result.Skipped += len(records) - start
			} else {
				result.Add(res)
			}
			return result, true
		}

		end := start + step
		if end > len(records) {
			end = len(records)
		}

		res, err := e.batcher.Process(ctx, connectionID, ep, records[start:end])
		if err != nil {
			// 存在性查询失败按批跳过，坏批不阻塞整页
			log.Printf("[SyncEngine] 子批处理失败，跳过 %d 条: %v", end-start, err)
			result.Skipped += end - start
			continue
		}
		result.Add(res)
	}

	return result, false
}

// runDetailEntity 执行依赖父实体的明细同步
func (e *SyncEngine) runDetailEntity(ctx context.Context, conn *model.Connection, ep *model.Endpoint, deadline time.Time) (BatchResult, bool, error) {
	parentEp, err := e.endpointRepo.GetByEntity(ctx, ep.ParentEntity)
	if err != nil {
		return BatchResult{}, false, fmt.Errorf("父实体 %s 未配置: %w", ep.ParentEntity, err)
	}

	res, done, err := e.detail.Sync(ctx, conn, ep, parentEp, deadline)
	if err != nil {
		return BatchResult{}, false, err
	}
	return *res, done, nil
}

// ==================== 完成校验 ====================

// validate 完成后的行数核对
// 本地行数低于远端总数只发告警信号，不回翻 is_complete——
// 这是给运维看的漂移提示，不做自动修复
func (e *SyncEngine) validate(ctx context.Context, connectionID int64, ep *model.Endpoint, total int) string {
	if total <= 0 {
		return ""
	}

	var localCount int64
	var err error
	if ep.PerParent() {
		localCount, err = e.detailRepo.CountByConnection(ctx, connectionID)
	} else {
		localCount, err = e.recordRepo.CountByConnection(ctx, ep.TargetTable, connectionID)
	}
	if err != nil {
		log.Printf("[SyncEngine] 实体 %s 行数核对失败: %v", ep.Entity, err)
		return ""
	}

	if localCount < int64(total) {
		msg := fmt.Sprintf("行数核对告警: 本地 %d / 远端 %d，存在缺口", localCount, total)
		log.Printf("[SyncEngine] 连接 %d 实体 %s %s", connectionID, ep.Entity, msg)
		return msg
	}
	return ""
}

// finishLog 收敛审计日志到终态
func (e *SyncEngine) finishLog(ctx context.Context, logID int64, status string, counts *BatchResult, durationMs int64, message string) {
	if err := e.logRepo.Finish(ctx, logID, status, counts.Processed, counts.Created, counts.Updated, counts.Skipped, durationMs, message); err != nil {
		log.Printf("[SyncEngine] 审计日志收敛失败: %v", err)
	}
}

// ==================== 连通性探测 ====================

// Test 轻量探测远端可达性，结果记录在连接上，不触碰任何进度
func (e *SyncEngine) Test(ctx context.Context, connectionID int64) (*dto.TestConnectionResponse, error) {
	conn, err := e.connRepo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("连接不存在: %w", err)
	}

	start := time.Now()
	client := e.clients.Get(conn)
	resp, err := client.R().SetContext(ctx).Get(probePath)
	durationMs := time.Since(start).Milliseconds()

	ok := err == nil && !resp.IsError()
	message := "ok"
	if err != nil {
		message = err.Error()
	} else if resp.IsError() {
		message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), truncateBody(resp.Body()))
	}

	if uerr := e.connRepo.UpdateTestResult(ctx, connectionID, ok, message); uerr != nil {
		log.Printf("[SyncEngine] 记录探测结果失败: %v", uerr)
	}

	return &dto.TestConnectionResponse{OK: ok, DurationMs: durationMs, Message: message}, nil
}
