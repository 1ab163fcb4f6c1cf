package events

import (
	"time"

	"github.com/betbot/polebet/internal/domain"
)

// PriceChangedEvent 价格变化事件（feed 推送的 best bid/ask 更新）
type PriceChangedEvent struct {
	Market    *domain.Market
	TokenType domain.TokenType
	BestBid   domain.Price
	BestAsk   domain.Price
	Timestamp time.Time
}

// OrderPlacedEvent 订单下单事件
type OrderPlacedEvent struct {
	Order     *domain.Order
	Market    *domain.Market
	Timestamp time.Time
}

// WindowFinalizedEvent 周期结束事件（score 已冻结）
type WindowFinalizedEvent struct {
	MarketSlug string
	Timestamp  time.Time
}
