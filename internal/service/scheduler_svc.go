package service

import (
	"context"
	"sort"
	"time"

	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/internal/repository"
)

// 全部完成后的陈旧阈值：最近同步早于该时长且本地行数仍低于远端总数时才重新排队
const defaultStaleAfter = 30 * time.Minute

// ==================== EndpointScheduler 调度器 ====================

// EndpointStatus 单实体的调度视图
type EndpointStatus struct {
	Endpoint   model.Endpoint
	Progress   *model.ExtractionProgress
	LocalCount int64
	Pending    bool
	Reason     string
}

// EndpointScheduler 按固定优先级 + 陈旧度挑选下一个待同步实体
// 目录是小而固定的集合，优先级列表即全序，无需显式 DAG
type EndpointScheduler struct {
	endpointRepo repository.EndpointRepository
	progressRepo repository.ProgressRepository
	recordRepo   repository.RecordRepository
	detailRepo   repository.OrderDetailRepository

	staleAfter time.Duration
}

// NewEndpointScheduler 创建调度器
func NewEndpointScheduler(
	endpointRepo repository.EndpointRepository,
	progressRepo repository.ProgressRepository,
	recordRepo repository.RecordRepository,
	detailRepo repository.OrderDetailRepository,
) *EndpointScheduler {
	return &EndpointScheduler{
		endpointRepo: endpointRepo,
		progressRepo: progressRepo,
		recordRepo:   recordRepo,
		detailRepo:   detailRepo,
		staleAfter:   defaultStaleAfter,
	}
}

// SetStaleAfter 调整陈旧阈值（测试用）
func (s *EndpointScheduler) SetStaleAfter(d time.Duration) {
	s.staleAfter = d
}

// Statuses 计算连接下全部实体的调度视图，按优先级排序
func (s *EndpointScheduler) Statuses(ctx context.Context, conn *model.Connection) ([]EndpointStatus, error) {
	endpoints, err := s.endpointRepo.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(endpoints, func(i, j int) bool {
		return endpoints[i].Priority < endpoints[j].Priority
	})

	statuses := make([]EndpointStatus, 0, len(endpoints))
	for _, ep := range endpoints {
		st := EndpointStatus{Endpoint: ep}

		prog, err := s.progressRepo.GetOrCreate(ctx, conn.ID, ep.Entity)
		if err != nil {
			return nil, err
		}
		st.Progress = prog

		if ep.PerParent() {
			st.LocalCount, err = s.detailRepo.CountByConnection(ctx, conn.ID)
		} else {
			st.LocalCount, err = s.recordRepo.CountByConnection(ctx, ep.TargetTable, conn.ID)
		}
		if err != nil {
			return nil, err
		}

		st.Pending, st.Reason = s.classify(&st)
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// NextPending 返回下一个需要同步的实体；无事可做时返回 nil
// 规则：最高优先级的未完成实体优先；全部完成时选陈旧且本地行数
// 仍低于已知总数的实体；否则报告无待办
func (s *EndpointScheduler) NextPending(ctx context.Context, conn *model.Connection) (*EndpointStatus, error) {
	statuses, err := s.Statuses(ctx, conn)
	if err != nil {
		return nil, err
	}

	// 先找未完成的
	for i := range statuses {
		if !statuses[i].Progress.IsComplete {
			return &statuses[i], nil
		}
	}

	// 再找已完成但陈旧、且行数有缺口的
	for i := range statuses {
		if statuses[i].Pending {
			return &statuses[i], nil
		}
	}

	return nil, nil
}

// classify 判定单实体是否待同步
func (s *EndpointScheduler) classify(st *EndpointStatus) (bool, string) {
	prog := st.Progress

	if !prog.IsComplete {
		return true, "incomplete"
	}

	if prog.LastSyncAt == nil {
		return false, "complete"
	}

	stale := time.Since(*prog.LastSyncAt) > s.staleAfter
	shortfall := prog.TotalRecords > 0 && st.LocalCount < int64(prog.TotalRecords)
	if stale && shortfall {
		return true, "stale_with_shortfall"
	}

	return false, "complete"
}
