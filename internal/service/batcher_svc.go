package service

import (
	"context"
	"encoding/json"
	"log"

	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/internal/repository"

	"gorm.io/datatypes"
)

// 单次 upsert 的记录数上限，同时约束存在性查询的 IN 列表长度
const defaultBatchSize = 100

// ==================== UpsertBatcher 去重写入器 ====================

// BatchResult 一批记录的写入统计
type BatchResult struct {
	Processed int // 去重后实际写入条数
	Created   int
	Updated   int
	Skipped   int // 写入失败被跳过的条数（按批计）
}

// Add 累加另一批统计
func (r *BatchResult) Add(other *BatchResult) {
	r.Processed += other.Processed
	r.Created += other.Created
	r.Updated += other.Updated
	r.Skipped += other.Skipped
}

// UpsertBatcher 批内去重 + 新旧分类 + 幂等落库
type UpsertBatcher struct {
	recordRepo repository.RecordRepository
	batchSize  int
}

// NewUpsertBatcher 创建去重写入器
func NewUpsertBatcher(recordRepo repository.RecordRepository) *UpsertBatcher {
	return &UpsertBatcher{
		recordRepo: recordRepo,
		batchSize:  defaultBatchSize,
	}
}

// SetBatchSize 调整批大小（测试用）
func (b *UpsertBatcher) SetBatchSize(n int) {
	if n > 0 {
		b.batchSize = n
	}
}

// BatchSize 当前批大小
func (b *UpsertBatcher) BatchSize() int {
	return b.batchSize
}

// Process 处理一批原始远端记录
// 流程：按外部标识去重（保留最后一次出现，视为最新）→ 查询存量分类新旧
// → OnConflict 批量 upsert。单批写入失败只记日志并跳过，不中断整次同步。
func (b *UpsertBatcher) Process(ctx context.Context, connectionID int64, ep *model.Endpoint, raw []map[string]interface{}) (*BatchResult, error) {
	result := &BatchResult{}
	if len(raw) == 0 {
		return result, nil
	}

	// -------- 批内去重 --------
	ids := make([]string, 0, len(raw))
	byID := make(map[string]map[string]interface{}, len(raw))
	for _, rec := range raw {
		id := ExternalID(ep, rec)
		if _, seen := byID[id]; !seen {
			ids = append(ids, id)
		}
		// 后出现的覆盖先出现的
		byID[id] = rec
	}

	// -------- 分批写入 --------
	for start := 0; start < len(ids); start += b.batchSize {
		end := start + b.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		existing, err := b.recordRepo.ExistingIDs(ctx, ep.TargetTable, connectionID, chunk)
		if err != nil {
			return result, err
		}

		records := make([]model.SyncedRecord, 0, len(chunk))
		created, updated := 0, 0
		for _, id := range chunk {
			data, err := json.Marshal(byID[id])
			if err != nil {
				log.Printf("[UpsertBatcher] 记录 %s 序列化失败，跳过: %v", id, err)
				result.Skipped++
				continue
			}
			records = append(records, model.SyncedRecord{
				ConnectionID: connectionID,
				ExternalID:   id,
				Data:         datatypes.JSON(data),
			})
			if existing[id] {
				updated++
			} else {
				created++
			}
		}

		if err := b.recordRepo.BatchUpsert(ctx, ep.TargetTable, records); err != nil {
			// 单批失败不致命：记日志、计入 skipped，继续下一批
			log.Printf("[UpsertBatcher] 表 %s 批量写入失败 (%d 条)，跳过该批: %v", ep.TargetTable, len(records), err)
			result.Skipped += len(records)
			continue
		}

		result.Processed += len(records)
		result.Created += created
		result.Updated += updated
	}

	return result, nil
}
