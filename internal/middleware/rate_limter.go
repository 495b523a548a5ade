package middleware

import (
	"fmt"
	"sync"
	"time"
)

// ==================== SyncRateLimiter 同步限流器 ====================

// SyncRateLimiter 同步触发限流器
// 防止频繁手动触发把远端 API 打到限流，也降低同一 (连接, 实体)
// 两次调用重叠的概率
type SyncRateLimiter struct {
	locks sync.Map // key -> *lockEntry
}

// lockEntry 锁条目
type lockEntry struct {
	lastTime time.Time
	mu       sync.Mutex
}

// 全局限流器实例
var globalLimiter = &SyncRateLimiter{}

// GetLimiter 获取全局限流器
func GetLimiter() *SyncRateLimiter {
	return globalLimiter
}

// ==================== 限流检查 ====================

// CheckResult 检查结果
type CheckResult struct {
	Allowed    bool          // 是否允许
	RetryAfter time.Duration // 剩余冷却时间
}

// Check 检查是否允许执行，允许时顺带更新最后执行时间
// key: 限流键，如 "conn:123:orders"
func (r *SyncRateLimiter) Check(key string, interval time.Duration) CheckResult {
	actual, _ := r.locks.LoadOrStore(key, &lockEntry{})
	entry := actual.(*lockEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(entry.lastTime)

	if elapsed < interval {
		return CheckResult{
			Allowed:    false,
			RetryAfter: interval - elapsed,
		}
	}

	entry.lastTime = now
	return CheckResult{Allowed: true}
}

// Reset 重置指定 key 的限流（运维用）
func (r *SyncRateLimiter) Reset(key string) {
	r.locks.Delete(key)
}

// ==================== Key 生成工具 ====================

// ConnSyncKey 生成 (动作, 连接, 实体) 维度的限流键
// entity 为空表示调度器自选实体的整连接同步
func ConnSyncKey(action string, connectionID int64, entity string) string {
	if entity == "" {
		entity = "auto"
	}
	return fmt.Sprintf("%s:conn:%d:%s", action, connectionID, entity)
}

// GlobalSyncKey 生成全局限流键
func GlobalSyncKey(action string) string {
	return fmt.Sprintf("global:%s", action)
}

// 限流动作
const (
	ActionSync = "sync"
	ActionTest = "test"
)

// ==================== 默认限流间隔 ====================

// 同步触发的默认冷却时间；连通性探测可以更频繁
const (
	DefaultSyncInterval = 1 * time.Minute
	DefaultTestInterval = 10 * time.Second
)
