package model

import "github.com/lib/pq"

// ==================== Endpoint 远程资源目录 ====================

// Endpoint 描述远端一种可同步的资源，属于静态目录配置，同步时只读
type Endpoint struct {
	BaseModel
	// 实体名，如 orders / payments，全局唯一
	Entity string `gorm:"size:64;uniqueIndex" json:"entity"`

	// 请求路径模板，逐条拉取的子实体可包含 {id} 占位符
	Path   string `gorm:"size:255" json:"path"`
	Method string `gorm:"size:8;default:GET" json:"method"`

	// 响应中记录数组所在的键，为空时按默认键依次尝试
	DataKey string `gorm:"size:64" json:"data_key"`

	// 分页参数：页大小参数名与默认页大小
	LimitParam string `gorm:"size:32;default:limit" json:"limit_param"`
	PageSize   int    `gorm:"default:100" json:"page_size"`

	// 本地落库表名
	TargetTable string `gorm:"size:64" json:"target_table"`

	// 调度优先级，数值越小越先同步（父实体在前，量大的在后）
	Priority int `gorm:"default:100" json:"priority"`

	// 外部标识候选字段，按序尝试；为空时走通用提取链
	IdentityFields pq.StringArray `gorm:"type:text[]" json:"identity_fields"`

	// 逐条拉取的子实体所依赖的父实体名，如 order_details -> orders
	ParentEntity string `gorm:"size:64" json:"parent_entity"`

	Enabled bool `gorm:"default:true" json:"enabled"`
}

// 内置实体名
const (
	EntityCustomers    = "customers"
	EntityProducts     = "products"
	EntityOrders       = "orders"
	EntityPayments     = "payments"
	EntityOrderDetails = "order_details"
)

// PerParent 该实体是否需要按父记录逐条拉取（无批量分页接口）
func (e *Endpoint) PerParent() bool {
	return e.ParentEntity != ""
}

// EffectivePageSize 分页窗口大小，未配置时取 100
func (e *Endpoint) EffectivePageSize() int {
	if e.PageSize > 0 {
		return e.PageSize
	}
	return 100
}

// DefaultEndpoints 内置目录
// 优先级体现数据依赖：订单先于订单明细，交易量最大的 payments 放在最后
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Entity: EntityCustomers, Path: "/customers", Method: "GET", DataKey: "results",
			LimitParam: "limit", PageSize: 100, TargetTable: "synced_customers", Priority: 10, Enabled: true,
			IdentityFields: pq.StringArray{"customer_id", "id"}},
		{Entity: EntityProducts, Path: "/products", Method: "GET", DataKey: "results",
			LimitParam: "limit", PageSize: 100, TargetTable: "synced_products", Priority: 20, Enabled: true,
			IdentityFields: pq.StringArray{"product_id", "id"}},
		{Entity: EntityOrders, Path: "/orders", Method: "GET", DataKey: "results",
			LimitParam: "limit", PageSize: 100, TargetTable: "synced_orders", Priority: 30, Enabled: true,
			IdentityFields: pq.StringArray{"order_id", "receipt_id", "id"}},
		{Entity: EntityOrderDetails, Path: "/orders/{id}", Method: "GET", DataKey: "",
			LimitParam: "limit", PageSize: 1, TargetTable: "synced_order_details", Priority: 40, Enabled: true,
			ParentEntity: EntityOrders},
		{Entity: EntityPayments, Path: "/payments", Method: "GET", DataKey: "results",
			LimitParam: "limit", PageSize: 100, TargetTable: "synced_payments", Priority: 50, Enabled: true,
			IdentityFields: pq.StringArray{"payment_id", "uuid", "id"}},
	}
}
