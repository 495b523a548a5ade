package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"data_sync_v1_202608/internal/api/dto"
	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/internal/repository"

	"github.com/lib/pq"
)

// ==================== SyncEngine 测试 ====================

// paginatedServer 模拟带权威总数的分页接口
// 每个请求的 offset 会被记录，可选的每请求延迟用于逼出预算截断
type paginatedServer struct {
	total int
	delay time.Duration

	mu      sync.Mutex
	offsets []int
}

func (s *paginatedServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			fmt.Fprint(w, `{"status": "ok"}`)
			return
		}
		if r.URL.Path != "/customers" {
			http.NotFound(w, r)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		s.mu.Lock()
		s.offsets = append(s.offsets, offset)
		s.mu.Unlock()

		if s.delay > 0 {
			time.Sleep(s.delay)
		}

		var items []string
		for i := offset; i < offset+limit && i < s.total; i++ {
			items = append(items, fmt.Sprintf(`{"customer_id": %d}`, i+1))
		}
		fmt.Fprintf(w, `{"count": %d, "results": [%s]}`, s.total, strings.Join(items, ","))
	}
}

func (s *paginatedServer) seen() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.offsets...)
}

func customersCatalog() []model.Endpoint {
	return []model.Endpoint{
		{Entity: "customers", Path: "/customers", Method: "GET", DataKey: "results",
			LimitParam: "limit", PageSize: 100, TargetTable: "synced_customers",
			Priority: 10, Enabled: true, IdentityFields: pq.StringArray{"customer_id", "id"}},
	}
}

func TestSyncEngine_PaginatedScenario(t *testing.T) {
	// 远端总数 250，页大小 100：3 次抓取 (100,100,50)，
	// processed=250，final_offset=300 >= total，is_complete=true
	remote := &paginatedServer{total: 250}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	db := setupSyncTestDB(t, "synced_customers")
	seedEndpoints(t, db, customersCatalog())
	conn := seedConnection(t, db)
	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	resp, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "customers"})
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	if !resp.Success {
		t.Fatalf("期望成功: %+v", resp)
	}
	if len(resp.Entities) != 1 {
		t.Fatalf("期望单实体结果: %+v", resp.Entities)
	}

	res := resp.Entities[0]
	if res.Processed != 250 || res.Created != 250 {
		t.Errorf("处理量错误: %+v", res)
	}
	if !res.IsComplete || res.TotalRecords != 250 {
		t.Errorf("完成状态错误: %+v", res)
	}
	if res.FinalOffset != 300 {
		t.Errorf("期望 final_offset=300, 得到 %d", res.FinalOffset)
	}
	if got := remote.seen(); len(got) != 3 {
		t.Errorf("期望 3 次抓取, 实际 %v", got)
	}

	// 检查点与审计日志都应收敛
	prog, err := repository.NewProgressRepository(db).Get(ctx, conn.ID, "customers")
	if err != nil {
		t.Fatal(err)
	}
	if !prog.IsComplete || prog.LastOffset != 300 || prog.TotalRecords != 250 {
		t.Errorf("检查点错误: %+v", prog)
	}

	logs, err := repository.NewLogRepository(db).ListByConnection(ctx, conn.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != model.LogStatusSuccess {
		t.Errorf("审计日志错误: %+v", logs)
	}

	count, err := repository.NewRecordRepository(db).CountByConnection(ctx, "synced_customers", conn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 250 {
		t.Errorf("本地行数错误: %d", count)
	}
}

func TestSyncEngine_ShortPageNotTerminal(t *testing.T) {
	// 短页不是结束信号：只有 offset 追上权威总数才算完
	remote := &paginatedServer{total: 150}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		remote.mu.Lock()
		remote.offsets = append(remote.offsets, offset)
		remote.mu.Unlock()

		// 首页只给 60 条（短页），次页给剩下的
		if offset == 0 {
			fmt.Fprint(w, `{"count": 150, "results": [`+recordsJSON(1, 60)+`]}`)
			return
		}
		fmt.Fprint(w, `{"count": 150, "results": [`+recordsJSON(101, 150)+`]}`)
	}))
	defer server.Close()

	db := setupSyncTestDB(t, "synced_customers")
	seedEndpoints(t, db, customersCatalog())
	conn := seedConnection(t, db)
	engine := newTestEngine(db, server.URL)

	resp, err := engine.Run(context.Background(), conn.ID, &dto.SyncRequest{Entity: "customers"})
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}

	res := resp.Entities[0]
	if !res.IsComplete {
		t.Errorf("应在 offset 追上总数时完成: %+v", res)
	}
	if got := remote.seen(); len(got) != 2 {
		t.Errorf("短页不应提前终止, 抓取序列 %v", got)
	}
}

func recordsJSON(from, to int) string {
	var items []string
	for i := from; i <= to; i++ {
		items = append(items, fmt.Sprintf(`{"customer_id": %d}`, i))
	}
	return strings.Join(items, ",")
}

func TestSyncEngine_Resumability(t *testing.T) {
	// 预算在第一页后耗尽；再次调用从检查点续跑直到完成
	remote := &paginatedServer{total: 250, delay: 150 * time.Millisecond}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	db := setupSyncTestDB(t, "synced_customers")
	seedEndpoints(t, db, customersCatalog())
	conn := seedConnection(t, db)
	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	engine.SetBudget(100 * time.Millisecond)
	resp, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "customers"})
	if err != nil {
		t.Fatalf("首次调用失败: %v", err)
	}

	first := resp.Entities[0]
	if first.IsComplete {
		t.Fatal("预算截断后不应报告完成")
	}
	if first.FinalOffset != 100 || first.Processed != 100 {
		t.Fatalf("首次调用应停在第一页末: %+v", first)
	}
	if !strings.Contains(first.Message, "offset=100") {
		t.Errorf("继续提示错误: %s", first.Message)
	}

	// 续跑：预算放宽后从 offset=100 继续
	engine.SetBudget(30 * time.Second)
	resp, err = engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "customers"})
	if err != nil {
		t.Fatalf("续跑失败: %v", err)
	}

	second := resp.Entities[0]
	if !second.IsComplete || second.FinalOffset != 300 {
		t.Errorf("续跑未收敛: %+v", second)
	}
	if second.Processed != 150 {
		t.Errorf("续跑不应重复处理首页: %+v", second)
	}

	offsets := remote.seen()
	want := []int{0, 100, 200}
	if len(offsets) != len(want) {
		t.Fatalf("抓取序列错误: %v", offsets)
	}
	for i, o := range want {
		if offsets[i] != o {
			t.Fatalf("抓取序列错误: %v", offsets)
		}
	}

	count, err := repository.NewRecordRepository(db).CountByConnection(ctx, "synced_customers", conn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 250 {
		t.Errorf("续跑后本地行数错误: %d", count)
	}
}

func TestSyncEngine_ValidationDrift(t *testing.T) {
	// 远端声称 5 条但有两条共用标识：本地 4 行 < 总数 5。
	// 完成标志保持 true，漂移只进审计日志
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset > 0 {
			fmt.Fprint(w, `{"count": 5, "results": []}`)
			return
		}
		fmt.Fprint(w, `{"count": 5, "results": [
			{"customer_id": 1}, {"customer_id": 2}, {"customer_id": 3},
			{"customer_id": 4}, {"customer_id": 4}
		]}`)
	}))
	defer server.Close()

	db := setupSyncTestDB(t, "synced_customers")
	seedEndpoints(t, db, customersCatalog())
	conn := seedConnection(t, db)
	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	resp, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "customers"})
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	if !resp.Entities[0].IsComplete {
		t.Fatal("漂移不应影响完成标志")
	}

	prog, err := repository.NewProgressRepository(db).Get(ctx, conn.ID, "customers")
	if err != nil {
		t.Fatal(err)
	}
	if !prog.IsComplete {
		t.Error("is_complete 不应被回翻")
	}

	logs, err := repository.NewLogRepository(db).ListByConnection(ctx, conn.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != model.LogStatusSuccess {
		t.Fatalf("审计日志错误: %+v", logs)
	}
	if !strings.Contains(logs[0].Message, "行数核对告警") {
		t.Errorf("漂移应留下告警信息: %q", logs[0].Message)
	}
}

func TestSyncEngine_FatalErrors(t *testing.T) {
	remote := &paginatedServer{total: 10}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	db := setupSyncTestDB(t, "synced_customers")
	seedEndpoints(t, db, customersCatalog())
	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	// 缺少凭证：直接报错，不触碰任何持久状态
	conn := &model.Connection{Name: "无凭证", Status: model.ConnectionStatusActive}
	if err := db.Create(conn).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "customers"}); err == nil {
		t.Error("缺少凭证应返回错误")
	}

	var progCount int64
	db.Model(&model.ExtractionProgress{}).Count(&progCount)
	if progCount != 0 {
		t.Error("致命错误不应产生进度行")
	}

	// 未知实体
	good := seedConnection(t, db)
	if _, err := engine.Run(ctx, good.ID, &dto.SyncRequest{Entity: "widgets"}); err == nil {
		t.Error("未知实体应返回错误")
	}

	// 不存在的连接
	if _, err := engine.Run(ctx, 9999, &dto.SyncRequest{}); err == nil {
		t.Error("不存在的连接应返回错误")
	}
}

func TestSyncEngine_SchedulerDriven(t *testing.T) {
	remote := &paginatedServer{total: 120}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	db := setupSyncTestDB(t, "synced_customers")
	seedEndpoints(t, db, customersCatalog())
	conn := seedConnection(t, db)
	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	// 未指定实体：调度器自行挑选直到无待办
	resp, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{})
	if err != nil {
		t.Fatalf("调度同步失败: %v", err)
	}
	if resp.NothingPending {
		t.Fatal("首次调用应有待办")
	}
	if resp.Processed != 120 {
		t.Errorf("处理量错误: %+v", resp)
	}

	// 再次调用：全部完成且不陈旧，无事可做
	resp, err = engine.Run(ctx, conn.ID, &dto.SyncRequest{})
	if err != nil {
		t.Fatalf("二次调用失败: %v", err)
	}
	if !resp.NothingPending {
		t.Errorf("期望无待办: %+v", resp)
	}
}

func TestSyncEngine_ForceReset(t *testing.T) {
	remote := &paginatedServer{total: 50}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	db := setupSyncTestDB(t, "synced_customers")
	seedEndpoints(t, db, customersCatalog())
	conn := seedConnection(t, db)
	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	if _, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "customers"}); err != nil {
		t.Fatalf("首次同步失败: %v", err)
	}

	// 强制重置后从 offset=0 重新拉取，upsert 幂等不产生重复行
	resp, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "customers", ForceReset: true})
	if err != nil {
		t.Fatalf("重置同步失败: %v", err)
	}
	res := resp.Entities[0]
	if res.Created != 0 || res.Updated != 50 {
		t.Errorf("重放应全部判定为更新: %+v", res)
	}

	offsets := remote.seen()
	if offsets[len(offsets)-1] != 0 {
		t.Errorf("重置后应从 offset=0 开始: %v", offsets)
	}

	count, err := repository.NewRecordRepository(db).CountByConnection(ctx, "synced_customers", conn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 50 {
		t.Errorf("重放后行数错误: %d", count)
	}
}

func TestSyncEngine_EmptyPageShortOfTotal(t *testing.T) {
	// 远端声称还有数据却返回空页：空页即终点，
	// 总数收敛到实际到达的 offset，完成态下 offset >= total 恒成立
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset == 0 {
			fmt.Fprint(w, `{"count": 250, "results": [`+recordsJSON(1, 100)+`]}`)
			return
		}
		fmt.Fprint(w, `{"count": 250, "results": []}`)
	}))
	defer server.Close()

	db := setupSyncTestDB(t, "synced_customers")
	seedEndpoints(t, db, customersCatalog())
	conn := seedConnection(t, db)
	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	resp, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "customers"})
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	res := resp.Entities[0]
	if !res.IsComplete {
		t.Fatalf("空页应结束本轮: %+v", res)
	}
	if res.TotalRecords != 100 || res.FinalOffset != 100 {
		t.Errorf("总数应收敛到到达的 offset: %+v", res)
	}

	prog, err := repository.NewProgressRepository(db).Get(ctx, conn.ID, "customers")
	if err != nil {
		t.Fatal(err)
	}
	if !prog.IsComplete {
		t.Errorf("空页终止应落盘完成态: %+v", prog)
	}
	if prog.TotalRecords > 0 && prog.LastOffset < prog.TotalRecords {
		t.Errorf("完成态下 offset 不应落后总数: %+v", prog)
	}
}

func TestSyncEngine_WriteFailureSurfacesSkipped(t *testing.T) {
	// 落库表缺失导致整批写入失败：按批跳过并继续，
	// skipped 计数必须进入响应与审计日志，不能只留在进程日志里
	remote := &paginatedServer{total: 50}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	db := setupSyncTestDB(t) // 不迁移 synced_customers
	seedEndpoints(t, db, customersCatalog())
	conn := seedConnection(t, db)
	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	resp, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "customers"})
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	res := resp.Entities[0]
	if res.Skipped != 50 || res.Processed != 0 {
		t.Errorf("跳过量应进入单实体结果: %+v", res)
	}
	if resp.Skipped != 50 {
		t.Errorf("汇总跳过量错误: %+v", resp)
	}

	logs, err := repository.NewLogRepository(db).ListByConnection(ctx, conn.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Skipped != 50 {
		t.Errorf("审计日志应记录跳过量: %+v", logs)
	}
}

func TestSyncEngine_DetailEntityCheckpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/orders/")
		fmt.Fprintf(w, `{"data": {"order_id": %q, "lines": 1}}`, id)
	}))
	defer server.Close()

	db := setupSyncTestDB(t, "synced_orders")
	seedEndpoints(t, db, []model.Endpoint{
		{Entity: "orders", Path: "/orders", Method: "GET", DataKey: "results",
			LimitParam: "limit", PageSize: 100, TargetTable: "synced_orders",
			Priority: 30, Enabled: true},
		{Entity: "order_details", Path: "/orders/{id}", Method: "GET",
			LimitParam: "limit", PageSize: 1, TargetTable: "synced_order_details",
			Priority: 40, Enabled: true, ParentEntity: "orders"},
	})
	conn := seedConnection(t, db)
	seedParentOrder(t, db, conn.ID, "o-1", "open")

	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	// 预置一条残留的分页检查点，明细实体不应沿用它
	progressRepo := repository.NewProgressRepository(db)
	if _, err := progressRepo.GetOrCreate(ctx, conn.ID, "order_details"); err != nil {
		t.Fatal(err)
	}
	if err := progressRepo.Checkpoint(ctx, conn.ID, "order_details", 77, false, 0); err != nil {
		t.Fatal(err)
	}

	resp, err := engine.Run(ctx, conn.ID, &dto.SyncRequest{Entity: "order_details"})
	if err != nil {
		t.Fatalf("明细同步失败: %v", err)
	}
	res := resp.Entities[0]
	if !res.IsComplete || res.Processed != 1 {
		t.Fatalf("明细同步结果错误: %+v", res)
	}
	if res.FinalOffset != 0 || res.TotalRecords != 0 {
		t.Errorf("明细实体应报告零 offset: %+v", res)
	}

	prog, err := progressRepo.Get(ctx, conn.ID, "order_details")
	if err != nil {
		t.Fatal(err)
	}
	if prog.LastOffset != 0 || prog.TotalRecords != 0 {
		t.Errorf("明细检查点应归零: %+v", prog)
	}
}

func TestSyncEngine_Probe(t *testing.T) {
	remote := &paginatedServer{total: 0}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	db := setupSyncTestDB(t, "synced_customers")
	conn := seedConnection(t, db)
	engine := newTestEngine(db, server.URL)
	ctx := context.Background()

	resp, err := engine.Test(ctx, conn.ID)
	if err != nil {
		t.Fatalf("探测失败: %v", err)
	}
	if !resp.OK {
		t.Errorf("期望探测成功: %+v", resp)
	}

	// 结果落在连接上
	stored, err := repository.NewConnectionRepository(db).GetByID(ctx, conn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.LastTestOK || stored.LastTestAt == nil {
		t.Errorf("探测结果未记录: %+v", stored)
	}
}
