package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/events"
	"github.com/betbot/polebet/internal/ports"
	"github.com/betbot/polebet/pkg/marketspec"
)

type fakeListing struct {
	mu       sync.Mutex
	failures int // 前 N 次返回"尚未上架"
	resolved []string
}

func (l *fakeListing) Resolve(_ context.Context, slug string) (*domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return nil, ports.ErrWindowNotListed
	}
	l.resolved = append(l.resolved, slug)
	return &domain.Market{
		Name:             "btc",
		Slug:             slug,
		ConditionID:      "0xcond-" + slug,
		UpAssetID:        "asset-up-" + slug,
		DownAssetID:      "asset-down-" + slug,
		DownOutcomeIndex: 1,
		Timestamp:        time.Now().Unix(),
	}, nil
}

func testSpec(t *testing.T) marketspec.MarketSpec {
	t.Helper()
	spec, err := marketspec.New("btc", "15m", "updown")
	require.NoError(t, err)
	return spec
}

func newTestEngine(t *testing.T, listing ports.ListingService, orders ports.OrderService, maxPerSide int) *Engine {
	t.Helper()
	e, err := New(Options{
		Spec:           testSpec(t),
		Listing:        listing,
		Orders:         orders,
		SharesPerSide:  5,
		MaxPerSide:     maxPerSide,
		MinConfidence:  0.50,
		TickCents:      1,
		TransitionTick: time.Hour, // 测试内禁用后台定时器的干扰
	})
	require.NoError(t, err)
	return e
}

func upEvent(m *domain.Market, ask float64, at time.Time) *events.PriceChangedEvent {
	return &events.PriceChangedEvent{
		Market:    m,
		TokenType: domain.TokenTypeUp,
		BestBid:   domain.PriceFromDecimal(ask - 0.01),
		BestAsk:   domain.PriceFromDecimal(ask),
		Timestamp: at,
	}
}

func downEvent(m *domain.Market, ask float64, at time.Time) *events.PriceChangedEvent {
	return &events.PriceChangedEvent{
		Market:    m,
		TokenType: domain.TokenTypeDown,
		BestBid:   domain.PriceFromDecimal(ask - 0.01),
		BestAsk:   domain.PriceFromDecimal(ask),
		Timestamp: at,
	}
}

func TestEngine_NotListedRetriesWithoutAdvancing(t *testing.T) {
	listing := &fakeListing{failures: 2}
	e := newTestEngine(t, listing, &fakeOrderService{}, 3)

	// 初始解析失败不致命（边界附近属于预期）
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()
	assert.Nil(t, e.CurrentMarket())

	now := time.Now()
	// 第一次价格事件：解析仍失败，slug 不推进
	require.NoError(t, e.OnPriceChanged(context.Background(), upEvent(nil, 0.50, now)))
	assert.Nil(t, e.CurrentMarket())

	// 第二次价格事件：上架成功，周期建立
	require.NoError(t, e.OnPriceChanged(context.Background(), upEvent(nil, 0.50, now.Add(time.Second))))
	m := e.CurrentMarket()
	require.NotNil(t, m)
	assert.Equal(t, testSpec(t).CurrentSlug(now.Add(time.Second)), m.Slug)
}

func TestEngine_WindowRollover(t *testing.T) {
	listing := &fakeListing{}
	e := newTestEngine(t, listing, &fakeOrderService{}, 3)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	first := e.CurrentMarket()
	require.NotNil(t, first)

	// 跨过周期边界的事件触发切换
	next := time.Now().Add(16 * time.Minute)
	require.NoError(t, e.OnPriceChanged(context.Background(), upEvent(first, 0.50, next)))

	m := e.CurrentMarket()
	require.NotNil(t, m)
	assert.NotEqual(t, first.Slug, m.Slug)
	assert.Equal(t, testSpec(t).CurrentSlug(next), m.Slug)
}

// 随机行情下跑通完整管线：预测 → 决策 → 配对下单。
// 不论下了多少单，每一笔主单都必须有一笔价格满足 0.98 − ask 关系的对冲单
// （同一对的两腿限价和恒为 0.99 = ask+tick + 0.98−ask）。
func TestEngine_PairedOrdersInvariant(t *testing.T) {
	listing := &fakeListing{}
	svc := &fakeOrderService{}
	e := newTestEngine(t, listing, svc, 0)
	require.NoError(t, e.Start(context.Background()))

	rng := newDeterministicWalk(7)
	now := time.Now()
	m := e.CurrentMarket()
	require.NotNil(t, m)

	for i := 0; i < 2000; i++ {
		ask := rng.next()
		require.NoError(t, e.OnPriceChanged(context.Background(), upEvent(m, ask, now)))
		require.NoError(t, e.OnPriceChanged(context.Background(), downEvent(m, 1-ask, now)))
		now = now.Add(100 * time.Millisecond)
	}
	e.Stop() // 等待所有异步下单收尾

	orders := svc.orders()
	var upPips, downPips []int
	for _, o := range orders {
		assert.Equal(t, domain.SideBuy, o.Side)
		assert.Equal(t, domain.OrderTypeGTC, o.OrderType)
		switch o.TokenType {
		case domain.TokenTypeUp:
			upPips = append(upPips, o.Price.Pips)
		case domain.TokenTypeDown:
			downPips = append(downPips, o.Price.Pips)
		}
	}
	require.Equal(t, len(upPips), len(downPips), "每笔主单必须配一笔对冲单")

	// 配对不依赖提交顺序：{主单价} 与 {9900 − 对侧价} 的多重集合必须一致
	mirrored := make([]int, len(downPips))
	for i, d := range downPips {
		mirrored[i] = 9900 - d
	}
	sort.Ints(upPips)
	sort.Ints(mirrored)
	assert.Equal(t, upPips, mirrored)
}

// 上涨后回落：0.50 → 0.53 → 0.56 → 0.54（down 侧镜像）。
// 前两点不可能触发预测（种子 + 历史不足）；整个序列最多产生一次预测、
// 最多一对订单。
func TestEngine_RiseThenDipSequence(t *testing.T) {
	listing := &fakeListing{}
	svc := &fakeOrderService{}
	e := newTestEngine(t, listing, svc, 3)
	require.NoError(t, e.Start(context.Background()))

	m := e.CurrentMarket()
	require.NotNil(t, m)

	ups := []float64{0.50, 0.53, 0.56, 0.54}
	downs := []float64{0.49, 0.46, 0.43, 0.45}
	now := time.Now()
	for i := range ups {
		require.NoError(t, e.OnPriceChanged(context.Background(), downEvent(m, downs[i], now)))
		require.NoError(t, e.OnPriceChanged(context.Background(), upEvent(m, ups[i], now)))

		if i < 2 {
			assert.Empty(t, svc.orders(), "第 %d 个点不可能触发交易", i+1)
		}
		now = now.Add(time.Second)
	}
	e.Stop()

	orders := svc.orders()
	require.LessOrEqual(t, len(orders), 2, "单次预测最多一对订单")
	if len(orders) == 2 {
		assert.Equal(t, 9900, orders[0].Price.Pips+orders[1].Price.Pips)
		assert.NotEqual(t, orders[0].TokenType, orders[1].TokenType)
	}
}

// 简单确定性随机游走（避免测试依赖全局 rand）
type detWalk struct {
	state uint64
	price float64
}

func newDeterministicWalk(seed uint64) *detWalk {
	return &detWalk{state: seed*2862933555777941757 + 3037000493, price: 0.50}
}

func (w *detWalk) next() float64 {
	w.state = w.state*2862933555777941757 + 3037000493
	step := (float64(w.state>>40)/float64(1<<24) - 0.5) * 0.12
	w.price += step
	if w.price < 0.10 {
		w.price = 0.10 + (0.10 - w.price)
	}
	if w.price > 0.90 {
		w.price = 0.90 - (w.price - 0.90)
	}
	return w.price
}
