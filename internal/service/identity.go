package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"data_sync_v1_202608/internal/model"
)

// ==================== 外部标识提取 ====================

// IDExtractor 从一条远端记录中提取稳定标识，失败时返回 false
type IDExtractor func(rec map[string]interface{}) (string, bool)

// 通用提取链，按序尝试：id 类字段、uuid、订单标识、code/slug
// 远端 schema 不统一，字段命名只能逐个猜；目录里声明了 IdentityFields 的实体优先走声明值
var defaultExtractors = []IDExtractor{
	byKeys("id"),
	byKeys("uuid"),
	byKeys("order_id", "receipt_id"),
	byKeys("code", "slug"),
}

// ExternalID 为一条记录计算稳定外部标识
// 全链均未命中时回退为记录 JSON 的截断哈希，保证同一payload恒得同一标识
func ExternalID(ep *model.Endpoint, rec map[string]interface{}) string {
	if ep != nil && len(ep.IdentityFields) > 0 {
		if id, ok := byKeys(ep.IdentityFields...)(rec); ok {
			return id
		}
	}

	for _, extract := range defaultExtractors {
		if id, ok := extract(rec); ok {
			return id
		}
	}

	return hashFallback(rec)
}

// byKeys 依次尝试多个字段名
func byKeys(keys ...string) IDExtractor {
	return func(rec map[string]interface{}) (string, bool) {
		for _, key := range keys {
			if id, ok := stringify(rec[key]); ok {
				return id, true
			}
		}
		return "", false
	}
}

// stringify 将标识值规整为字符串
// 数字经 UseNumber 解码为 json.Number，不会丢精度
func stringify(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		if val != "" {
			return val, true
		}
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(val, 10), true
	}
	return "", false
}

// hashFallback 记录 JSON 的 SHA-256 截断哈希
func hashFallback(rec map[string]interface{}) string {
	raw, err := json.Marshal(rec)
	if err != nil {
		raw = []byte(strconv.Itoa(len(rec)))
	}
	sum := sha256.Sum256(raw)
	return "h_" + hex.EncodeToString(sum[:])[:24]
}
