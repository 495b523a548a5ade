package model

import "time"

// ==================== Connection 远程连接 ====================

// Connection 一条到远程 ChannelHub API 的授权链路
// 每个租户可持有多条连接；删除连接时级联清理进度、日志与已同步数据
type Connection struct {
	BaseModel
	TenantID int64  `gorm:"index" json:"tenant_id"`
	Name     string `gorm:"size:128" json:"name"`

	// 环境决定 BaseURL：production / development
	Environment string `gorm:"size:16;default:production" json:"environment"`

	// 远端签发的不透明 Bearer 凭证，引擎不解析其内容
	AccessToken string `gorm:"size:512" json:"-"`

	Status string `gorm:"size:16;default:active" json:"status"` // active / paused / error

	// 最近一次连通性探测结果
	LastTestAt      *time.Time `json:"last_test_at"`
	LastTestOK      bool       `json:"last_test_ok"`
	LastTestMessage string     `gorm:"size:512" json:"last_test_message"`
}

// 连接状态
const (
	ConnectionStatusActive = "active"
	ConnectionStatusPaused = "paused"
	ConnectionStatusError  = "error"
)

// 环境
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// 各环境的 API 基础地址
const (
	BaseURLProduction  = "https://openapi.channelhub.com/v1"
	BaseURLDevelopment = "https://sandbox.channelhub.com/v1"
)

// BaseURL 根据环境返回远端 API 基础地址
func (c *Connection) BaseURL() string {
	if c.Environment == EnvDevelopment {
		return BaseURLDevelopment
	}
	return BaseURLProduction
}

// IsActive 连接是否可参与同步
func (c *Connection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}

// 以下访问器满足 pkg/httpclient.ConnectionInfo

func (c *Connection) GetID() int64 { return c.ID }

func (c *Connection) GetBaseURL() string { return c.BaseURL() }

func (c *Connection) GetAccessToken() string { return c.AccessToken }
