package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/predictor"
)

type fakeOrderService struct {
	mu      sync.Mutex
	placed  []*domain.Order
	failAll bool

	statusSeq []*domain.Order
	statusIdx int
	statusErr error
}

func (f *fakeOrderService) PlaceOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fmt.Errorf("exchange unavailable")
	}
	o := *order
	o.OrderID = fmt.Sprintf("ord-%d", len(f.placed)+1)
	o.Status = domain.OrderStatusOpen
	f.placed = append(f.placed, &o)
	return &o, nil
}

func (f *fakeOrderService) GetOrderStatus(_ context.Context, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.statusIdx >= len(f.statusSeq) {
		return &domain.Order{OrderID: orderID, Status: domain.OrderStatusOpen}, nil
	}
	o := f.statusSeq[f.statusIdx]
	f.statusIdx++
	return o, nil
}

func (f *fakeOrderService) orders() []*domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Order(nil), f.placed...)
}

type fakeSleeper struct {
	mu     sync.Mutex
	slept  []time.Duration
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return nil
}

func testMarket() *domain.Market {
	return &domain.Market{
		Name:             "btc",
		Slug:             "btc-updown-15m-1700000000",
		ConditionID:      "0xcond",
		UpAssetID:        "asset-up",
		DownAssetID:      "asset-down",
		UpOutcomeIndex:   0,
		DownOutcomeIndex: 1,
		Timestamp:        time.Now().Unix(),
	}
}

func testDecision(ask float64) *TradeDecision {
	return &TradeDecision{
		MarketSlug: "btc-updown-15m-1700000000",
		Primary:    domain.TokenTypeUp,
		PrimaryAsk: domain.PriceFromDecimal(ask),
		Size:       5,
		Prediction: &predictor.Prediction{Direction: predictor.DirectionUp, Confidence: 0.8},
	}
}

func TestHedgePrice(t *testing.T) {
	// p=0.40 → 0.58
	p, err := HedgePrice(domain.PriceFromDecimal(0.40))
	require.NoError(t, err)
	assert.Equal(t, 5800, p.Pips)

	// p=0.99 → −0.01：拒绝
	_, err = HedgePrice(domain.PriceFromDecimal(0.99))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidHedgePrice)

	// p=0.98 → 0：同样越界
	_, err = HedgePrice(domain.PriceFromDecimal(0.98))
	assert.ErrorIs(t, err, ErrInvalidHedgePrice)
}

func TestPlacePair_PrimaryPlusHedgeExactlyOnce(t *testing.T) {
	svc := &fakeOrderService{}
	x := NewExecutor(svc, 1, false)

	res, err := x.PlacePair(context.Background(), testMarket(), testDecision(0.56))
	require.NoError(t, err)
	require.NotNil(t, res.Primary)
	require.NotNil(t, res.Hedge)
	assert.False(t, res.HedgeSkipped)

	orders := svc.orders()
	require.Len(t, orders, 2)

	primary, hedge := orders[0], orders[1]
	// 主单：信号侧，ask + 1 tick，GTC 买入
	assert.Equal(t, "asset-up", primary.AssetID)
	assert.Equal(t, domain.SideBuy, primary.Side)
	assert.Equal(t, domain.OrderTypeGTC, primary.OrderType)
	assert.Equal(t, 5700, primary.Price.Pips) // 0.56 + 0.01
	assert.Equal(t, 5.0, primary.Size)
	assert.NotEmpty(t, primary.ClientID)

	// 对冲单：另一侧，0.98 − primaryAsk
	assert.Equal(t, "asset-down", hedge.AssetID)
	assert.Equal(t, domain.SideBuy, hedge.Side)
	assert.Equal(t, domain.OrderTypeGTC, hedge.OrderType)
	assert.Equal(t, 4200, hedge.Price.Pips) // 0.98 − 0.56
	assert.NotEqual(t, primary.ClientID, hedge.ClientID)
}

func TestPlacePair_HedgeSkippedPrimaryKept(t *testing.T) {
	svc := &fakeOrderService{}
	x := NewExecutor(svc, 1, false)

	res, err := x.PlacePair(context.Background(), testMarket(), testDecision(0.99))
	require.NoError(t, err, "对冲越界不是错误，主单保留")
	require.NotNil(t, res.Primary)
	assert.Nil(t, res.Hedge)
	assert.True(t, res.HedgeSkipped)
	assert.Len(t, svc.orders(), 1)
}

func TestPlacePair_PrimaryFailureSkipsHedge(t *testing.T) {
	svc := &fakeOrderService{failAll: true}
	x := NewExecutor(svc, 1, false)

	res, err := x.PlacePair(context.Background(), testMarket(), testDecision(0.56))
	require.Error(t, err)
	assert.Nil(t, res.Primary)
	assert.Nil(t, res.Hedge)
	assert.Empty(t, svc.orders())
}

func TestPlacePair_DryRun(t *testing.T) {
	x := NewExecutor(nil, 1, true)

	res, err := x.PlacePair(context.Background(), testMarket(), testDecision(0.56))
	require.NoError(t, err)
	require.NotNil(t, res.Primary)
	require.NotNil(t, res.Hedge)
	assert.Contains(t, res.Primary.OrderID, "dry-")
}

func TestTrackOrder_StopsOnFinalStatus(t *testing.T) {
	svc := &fakeOrderService{
		statusSeq: []*domain.Order{
			{OrderID: "ord-1", Status: domain.OrderStatusOpen},
			{OrderID: "ord-1", Status: domain.OrderStatusPartial},
			{OrderID: "ord-1", Status: domain.OrderStatusFilled, FilledSize: 5},
		},
	}
	sleeper := &fakeSleeper{}
	x := NewExecutor(svc, 1, false).
		WithPoll(PollPolicy{MaxAttempts: 8, Initial: 500 * time.Millisecond, Multiplier: 2, Cap: 2 * time.Second}, sleeper)

	o, err := x.TrackOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)

	// 乘性退避 + 上限：500ms, 1s（第三次查询即终态，无更多等待）
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.slept)
}

func TestTrackOrder_GivesUpAfterMaxAttempts(t *testing.T) {
	svc := &fakeOrderService{} // 永远返回 open
	sleeper := &fakeSleeper{}
	x := NewExecutor(svc, 1, false).
		WithPoll(PollPolicy{MaxAttempts: 4, Initial: 100 * time.Millisecond, Multiplier: 2, Cap: 250 * time.Millisecond}, sleeper)

	o, err := x.TrackOrder(context.Background(), "ord-1")
	require.NoError(t, err, "用尽次数静默放弃，不算错误")
	require.NotNil(t, o)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)
	assert.Len(t, sleeper.slept, 3)
	// 间隔被上限截断：100ms, 200ms, 250ms
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}, sleeper.slept)
}
