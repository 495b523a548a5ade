package httpclient

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// ==================== ClientProvider 客户端提供者 ====================

// ConnectionInfo 构建客户端所需的最小连接信息
type ConnectionInfo interface {
	GetID() int64
	GetBaseURL() string
	GetAccessToken() string
}

// ClientProvider 按连接提供配置好的 Resty 客户端
// 客户端按 (连接ID, 凭证) 缓存，凭证轮换后自动重建，底层 Transport 得以复用
type ClientProvider interface {
	Get(conn ConnectionInfo) *resty.Client
}

type restyProvider struct {
	cache   sync.Map // key -> *resty.Client
	timeout time.Duration
	retries int
}

var _ ClientProvider = (*restyProvider)(nil)

// NewProvider 创建客户端提供者
func NewProvider() ClientProvider {
	return &restyProvider{
		timeout: 20 * time.Second,
		retries: 2,
	}
}

func (p *restyProvider) Get(conn ConnectionInfo) *resty.Client {
	// 凭证参与缓存键：token 轮换后旧客户端直接失效
	key := fmt.Sprintf("%d:%d", conn.GetID(), len(conn.GetAccessToken()))

	if val, ok := p.cache.Load(key); ok {
		return val.(*resty.Client)
	}

	client := resty.New().
		SetBaseURL(conn.GetBaseURL()).
		SetTimeout(p.timeout).
		SetRetryCount(p.retries).
		SetAuthToken(conn.GetAccessToken()).
		SetHeader("User-Agent", "DataSync-Go/1.0").
		SetHeader("Accept", "application/json")

	// LoadOrStore 防止并发重复创建
	actual, _ := p.cache.LoadOrStore(key, client)
	return actual.(*resty.Client)
}
