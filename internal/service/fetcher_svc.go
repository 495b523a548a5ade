package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"data_sync_v1_202608/internal/model"
	"data_sync_v1_202608/pkg/httpclient"
)

// 响应数组键的默认回退顺序
var defaultDataKeys = []string{"results", "data"}

// 错误响应体最多截取 1KB 进日志
const maxErrorBodyLen = 1024

// ==================== PageFetcher 分页抓取器 ====================

// Page 一页抓取结果
type Page struct {
	Records []map[string]interface{}

	// 远端上报的权威总数；HasTotal=false 表示本页响应未携带
	Total    int
	HasTotal bool

	// 配置键下不是数组：整个响应视为单条记录（非分页接口），迭代到此为止
	Single bool
}

// PageFetcher 针对远端分页接口的抓取器
// 可从任意 offset 重启，本身不保存任何跨页状态
type PageFetcher struct {
	clients httpclient.ClientProvider
}

// NewPageFetcher 创建分页抓取器
func NewPageFetcher(clients httpclient.ClientProvider) *PageFetcher {
	return &PageFetcher{clients: clients}
}

// FetchPage 抓取一页
// 每次请求都带 limit 与 offset 两个查询参数
func (f *PageFetcher) FetchPage(ctx context.Context, conn *model.Connection, ep *model.Endpoint, offset int) (*Page, error) {
	limitParam := ep.LimitParam
	if limitParam == "" {
		limitParam = "limit"
	}
	pageSize := ep.EffectivePageSize()

	client := f.clients.Get(conn)
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParam(limitParam, strconv.Itoa(pageSize)).
		SetQueryParam("offset", strconv.Itoa(offset)).
		Execute(ep.Method, ep.Path)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", ep.Path, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("远端 API 错误 [%d]: %s", resp.StatusCode(), truncateBody(resp.Body()))
	}

	return parsePage(resp.Body(), ep.DataKey)
}

// FetchOne 按父记录逐条抓取（路径模板中的 {id} 以父外部标识替换）
func (f *PageFetcher) FetchOne(ctx context.Context, conn *model.Connection, ep *model.Endpoint, externalID string) (map[string]interface{}, error) {
	path := strings.ReplaceAll(ep.Path, "{id}", externalID)

	client := f.clients.Get(conn)
	resp, err := client.R().
		SetContext(ctx).
		Execute(ep.Method, path)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", path, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("远端 API 错误 [%d]: %s", resp.StatusCode(), truncateBody(resp.Body()))
	}

	body, err := decodeBody(resp.Body())
	if err != nil {
		return nil, err
	}

	// 明细可能包在配置键或默认键下
	for _, key := range candidateKeys(ep.DataKey) {
		if obj, ok := body[key].(map[string]interface{}); ok {
			return obj, nil
		}
	}
	return body, nil
}

// ==================== 响应解析 ====================

// parsePage 解析分页响应
// 总数键依次尝试 count / total；数组键先用配置值，再按默认键回退
func parsePage(raw []byte, dataKey string) (*Page, error) {
	body, err := decodeBody(raw)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	for _, key := range []string{"count", "total"} {
		if n, ok := asInt(body[key]); ok {
			page.Total = n
			page.HasTotal = true
			break
		}
	}

	var value interface{}
	found := false
	for _, key := range candidateKeys(dataKey) {
		if v, ok := body[key]; ok {
			value = v
			found = true
			break
		}
	}

	if !found {
		// 没有任何数组键：面板型接口，整个响应就是一条记录
		page.Records = []map[string]interface{}{body}
		page.Single = true
		return page, nil
	}

	arr, ok := value.([]interface{})
	if !ok {
		// 键存在但不是数组，同样按单条记录处理
		if obj, isObj := value.(map[string]interface{}); isObj {
			page.Records = []map[string]interface{}{obj}
		} else {
			page.Records = []map[string]interface{}{body}
		}
		page.Single = true
		return page, nil
	}

	page.Records = make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if obj, isObj := item.(map[string]interface{}); isObj {
			page.Records = append(page.Records, obj)
		}
	}
	return page, nil
}

// decodeBody 解码 JSON 对象，数字保留为 json.Number 以免大整数标识失真
func decodeBody(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return body, nil
}

func candidateKeys(dataKey string) []string {
	if dataKey != "" {
		return append([]string{dataKey}, defaultDataKeys...)
	}
	return defaultDataKeys
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	case float64:
		return int(n), true
	}
	return 0, false
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBodyLen {
		return string(body[:maxErrorBodyLen]) + "...(truncated)"
	}
	return string(body)
}
