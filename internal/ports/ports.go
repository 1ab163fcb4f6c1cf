package ports

import (
	"context"
	"errors"

	"github.com/betbot/polebet/internal/domain"
)

// Small capability interfaces shared across layers (engine/services/feed).
//
// NOTE: These are intentionally defined in a "neutral" package to avoid
// circular dependencies between the engine, services, and infrastructure.

// ErrWindowNotListed is returned by ListingService.Resolve when the upstream
// listing does not know the window yet. Expected near 15-minute boundaries;
// callers must retry without advancing their recorded window id.
var ErrWindowNotListed = errors.New("window not yet listed upstream")

// ListingService resolves a deterministic window slug into a full market
// definition (token ids, condition id, outcome indices).
type ListingService interface {
	Resolve(ctx context.Context, slug string) (*domain.Market, error)
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)
}

type OrderStatusGetter interface {
	// GetOrderStatus returns the current upstream view of the order.
	GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error)
}

// OrderService is what the execution adapter needs from the order API.
type OrderService interface {
	OrderPlacer
	OrderStatusGetter
}

// SettlementService reports the resolution outcome of a condition.
type SettlementService interface {
	Resolution(ctx context.Context, conditionID string) (*domain.Resolution, error)
}

// TradeRecorder persists trades and window summaries for offline analysis.
// Implementations must be safe for concurrent use; failures are logged by the
// implementation and never propagated into the trading path.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, t *domain.RecordedTrade) error
	RecordWindowSummary(ctx context.Context, s *domain.WindowSummary) error
	Close() error
}
