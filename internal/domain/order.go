package domain

import (
	"math"
	"time"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单类型（GTC/FAK/FOK，默认 GTC）
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFAK OrderType = "FAK"
	OrderTypeFOK OrderType = "FOK"
)

// Order 订单领域模型
type Order struct {
	OrderID    string     // 交易所订单 ID
	ClientID   string     // 客户端订单 ID（uuid）
	MarketSlug string     // 订单所属市场周期（btc-updown-15m-xxxx），用于只管理本周期
	AssetID    string     // 资产 ID
	TokenType  TokenType  // Token 类型
	Side       Side       // 订单方向
	Price      Price      // 限价
	Size       float64    // 订单原始数量（requested size）
	FilledSize float64    // 已成交数量（partial fill 累计）
	OrderType  OrderType  // 订单类型
	Status     OrderStatus
	CreatedAt  time.Time
	FilledAt   *time.Time // 成交时间（可选）
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusFailed   OrderStatus = "failed"
)

// IsFinalStatus 检查订单是否为最终状态（filled/canceled/rejected/failed）
// 最终状态不应该被中间状态（open/pending）覆盖
func (o *Order) IsFinalStatus() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusCanceled ||
		o.Status == OrderStatusRejected || o.Status == OrderStatusFailed
}

// ExecutedSize 返回已成交数量（优先 FilledSize）
func (o *Order) ExecutedSize() float64 {
	if o == nil {
		return 0
	}
	if o.FilledSize > 0 {
		return o.FilledSize
	}
	return o.Size
}

// Price 价格值对象（固定精度：1e-4）
//
// tick size 可能为 0.1 / 0.01 / 0.001 / 0.0001。
// 为了让策略/执行层不丢精度，这里使用 1e-4 作为内部最小单位（pips）：
//   - 1 pip  = 0.0001
//   - 100 pips = 0.01（1 cent）
//   - 10000 pips = 1.0
type Price struct {
	// Pips: 价格 * 10000（范围通常 1..9999）
	Pips int
}

// ToDecimal 转换为小数（例如 6000 pips = 0.6000）
func (p Price) ToDecimal() float64 {
	return float64(p.Pips) / 10000.0
}

// ToCents 返回"分（0.01）口径"的整数（用于阈值/日志）。
func (p Price) ToCents() int {
	return int(math.Round(float64(p.Pips) / 100.0))
}

// PriceFromDecimal 从小数创建价格（四舍五入到 1e-4）
func PriceFromDecimal(decimal float64) Price {
	return Price{Pips: int(math.Round(decimal * 10000))}
}

// Add 价格相加
func (p Price) Add(other Price) Price {
	return Price{Pips: p.Pips + other.Pips}
}

// Subtract 价格相减
func (p Price) Subtract(other Price) Price {
	return Price{Pips: p.Pips - other.Pips}
}

// InBook 检查价格是否在订单簿有效区间 (0,1) 内
func (p Price) InBook() bool {
	return p.Pips > 0 && p.Pips < 10000
}
