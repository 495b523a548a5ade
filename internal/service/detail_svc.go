package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/internal/repository"

	"gorm.io/datatypes"
)

// 明细重拉阈值：active 档短周期，settled 档长周期，terminal 永不重拉
const (
	detailActiveTTL  = 15 * time.Minute
	detailSettledTTL = 24 * time.Hour
)

// ==================== OrderDetailSyncer 订单明细同步器 ====================

// OrderDetailSyncer 逐条拉取依赖父订单的明细记录
// 远端没有明细的批量分页接口，只能按父订单一条条取，
// 因而用有界并发换吞吐：一个 chunk 内最多 concurrency 个请求在途，
// 整个 chunk 完成后小憩一下再进入下一个 chunk，压住突发速率
type OrderDetailSyncer struct {
	recordRepo repository.RecordRepository
	detailRepo repository.OrderDetailRepository
	fetcher    *PageFetcher

	concurrency int
	pause       time.Duration
	scanStep    int // 每轮从父表读多少条候选
}

// NewOrderDetailSyncer 创建订单明细同步器
func NewOrderDetailSyncer(
	recordRepo repository.RecordRepository,
	detailRepo repository.OrderDetailRepository,
	fetcher *PageFetcher,
) *OrderDetailSyncer {
	return &OrderDetailSyncer{
		recordRepo:  recordRepo,
		detailRepo:  detailRepo,
		fetcher:     fetcher,
		concurrency: 10,
		pause:       200 * time.Millisecond,
		scanStep:    500,
	}
}

// SetConcurrency 设置并发参数
func (s *OrderDetailSyncer) SetConcurrency(limit int, pause time.Duration) {
	if limit > 0 {
		s.concurrency = limit
	}
	s.pause = pause
}

// Sync 在截止时间内同步明细
// parentEp 提供父表名，ep 提供明细请求路径模板
// 返回统计与是否全部处理完（false 表示被预算截断，下次继续）
func (s *OrderDetailSyncer) Sync(ctx context.Context, conn *model.Connection, ep, parentEp *model.Endpoint, deadline time.Time) (*BatchResult, bool, error) {
	result := &BatchResult{}

	offset := 0
	for {
		if time.Now().After(deadline) {
			return result, false, nil
		}

		parents, err := s.recordRepo.ListPage(ctx, parentEp.TargetTable, conn.ID, offset, s.scanStep)
		if err != nil {
			return result, false, err
		}
		if len(parents) == 0 {
			return result, true, nil
		}
		offset += len(parents)

		candidates, err := s.selectCandidates(ctx, conn.ID, parents)
		if err != nil {
			return result, false, err
		}

		done := s.fetchCandidates(ctx, conn, ep, candidates, deadline, result)
		if !done {
			return result, false, nil
		}
	}
}

// detailCandidate 待拉取的父订单
type detailCandidate struct {
	externalID string
	tier       string
	isNew      bool // 本地尚无明细行
}

// selectCandidates 按三档位筛出需要拉取明细的父订单
func (s *OrderDetailSyncer) selectCandidates(ctx context.Context, connectionID int64, parents []model.SyncedRecord) ([]detailCandidate, error) {
	ids := make([]string, len(parents))
	tiers := make(map[string]string, len(parents))
	for i, p := range parents {
		ids[i] = p.ExternalID
		tiers[p.ExternalID] = parentTier(p.Data)
	}

	states, err := s.detailRepo.GetStates(ctx, connectionID, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var candidates []detailCandidate
	for _, id := range ids {
		tier := tiers[id]

		state, seen := states[id]
		if !seen || state.DetailsSyncedAt == nil {
			// 从未拉过的一律拉，terminal 也要拉一次才算有明细
			candidates = append(candidates, detailCandidate{externalID: id, tier: tier, isNew: !seen})
			continue
		}

		age := now.Sub(*state.DetailsSyncedAt)
		switch tier {
		case model.DetailTierActive:
			if age > detailActiveTTL {
				candidates = append(candidates, detailCandidate{externalID: id, tier: tier})
			}
		case model.DetailTierSettled:
			if age > detailSettledTTL {
				candidates = append(candidates, detailCandidate{externalID: id, tier: tier})
			}
		case model.DetailTierTerminal:
			// 不再重拉
		}
	}
	return candidates, nil
}

// fetchCandidates 按 chunk 有界并发拉取，返回是否全部处理完
func (s *OrderDetailSyncer) fetchCandidates(ctx context.Context, conn *model.Connection, ep *model.Endpoint, candidates []detailCandidate, deadline time.Time, result *BatchResult) bool {
	for start := 0; start < len(candidates); start += s.concurrency {
		if time.Now().After(deadline) {
			return false
		}

		end := start + s.concurrency
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			details []model.OrderDetail
			created int
			skipped int
		)

		for _, c := range chunk {
			wg.Add(1)
			go func(c detailCandidate) {
				defer wg.Done()

				data, err := s.fetcher.FetchOne(ctx, conn, ep, c.externalID)
				if err != nil {
					// 单条失败只跳过，继续处理其余订单
					log.Printf("[OrderDetailSyncer] 订单 %s 明细拉取失败，跳过: %v", c.externalID, err)
					mu.Lock()
					skipped++
					mu.Unlock()
					return
				}

				raw, err := json.Marshal(data)
				if err != nil {
					log.Printf("[OrderDetailSyncer] 订单 %s 明细序列化失败，跳过: %v", c.externalID, err)
					mu.Lock()
					skipped++
					mu.Unlock()
					return
				}

				now := time.Now()
				mu.Lock()
				details = append(details, model.OrderDetail{
					ConnectionID:    conn.ID,
					ExternalID:      c.externalID,
					Status:          c.tier,
					Data:            datatypes.JSON(raw),
					DetailsSyncedAt: &now,
				})
				if c.isNew {
					created++
				}
				mu.Unlock()
			}(c)
		}
		wg.Wait()

		if err := s.detailRepo.BatchUpsert(ctx, details); err != nil {
			log.Printf("[OrderDetailSyncer] 明细批量写入失败 (%d 条)，跳过该批: %v", len(details), err)
			result.Skipped += len(details) + skipped
		} else {
			result.Processed += len(details)
			result.Created += created
			result.Updated += len(details) - created
			result.Skipped += skipped
		}

		// chunk 间小憩，压住对远端的突发请求
		if end < len(candidates) && s.pause > 0 {
			time.Sleep(s.pause)
		}
	}
	return true
}

// parentTier 从父订单 payload 中提取状态并归档
func parentTier(data datatypes.JSON) string {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return model.DetailTierActive
	}
	status, _ := obj["status"].(string)
	return model.DetailTierOf(status)
}
