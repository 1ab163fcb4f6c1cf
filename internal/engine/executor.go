package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/metrics"
	"github.com/betbot/polebet/internal/ports"
)

// ErrInvalidHedgePrice 计算出的对冲价格落在订单簿有效区间 (0,1) 之外。
// 对冲单被跳过，已提交的主单不回滚。
var ErrInvalidHedgePrice = errors.New("hedge price outside (0,1)")

// hedgeBudgetPips: 一对互补 token 在结算时合计 ≤ 1，按 0.98 的组合成本
// 买入两侧可以锁定一个小的确定性价差（扣除手续费）。
const hedgeBudgetPips = 9800

// Sleeper 把轮询间隔从真实时钟里解耦出来（测试注入假实现）
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollPolicy 有界订单状态轮询：最大次数 + 乘性退避 + 间隔上限。
// 超过次数后静默放弃，订单的最终命运留给上游（不会让进程崩溃）。
type PollPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	Cap         time.Duration
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{MaxAttempts: 8, Initial: 500 * time.Millisecond, Multiplier: 2, Cap: 8 * time.Second}
}

// PairResult 一次配对下单的结果
type PairResult struct {
	Primary      *domain.Order
	Hedge        *domain.Order
	HedgeSkipped bool
}

// Executor 把交易决策翻译成两笔限价单（主单 + 对冲单）。
//
// 主单：按 ask + 1 tick 买入信号侧（轻微越过价差换取成交概率），GTC。
// 对冲单：按 0.98 − 主单侧 ask 买入另一侧，GTC。
type Executor struct {
	orders ports.OrderService
	log    *logrus.Entry

	tickPips int
	dryRun   bool

	poll    PollPolicy
	sleeper Sleeper
}

func NewExecutor(orders ports.OrderService, tickCents int, dryRun bool) *Executor {
	if tickCents <= 0 {
		tickCents = 1
	}
	return &Executor{
		orders:   orders,
		log:      logrus.WithField("component", "executor"),
		tickPips: tickCents * 100,
		dryRun:   dryRun,
		poll:     DefaultPollPolicy(),
		sleeper:  realSleeper{},
	}
}

// WithPoll 覆盖轮询策略与 sleeper（测试用）
func (x *Executor) WithPoll(p PollPolicy, s Sleeper) *Executor {
	x.poll = p
	if s != nil {
		x.sleeper = s
	}
	return x
}

// PrimaryPrice 主单限价：ask + 1 tick。越界时退回 ask 本身。
func (x *Executor) PrimaryPrice(ask domain.Price) domain.Price {
	p := domain.Price{Pips: ask.Pips + x.tickPips}
	if !p.InBook() {
		return ask
	}
	return p
}

// HedgePrice 对冲限价：0.98 − 主单侧 ask。
func HedgePrice(primaryAsk domain.Price) (domain.Price, error) {
	p := domain.Price{Pips: hedgeBudgetPips - primaryAsk.Pips}
	if !p.InBook() {
		return p, fmt.Errorf("%w: ask=%.4f hedge=%.4f", ErrInvalidHedgePrice, primaryAsk.ToDecimal(), p.ToDecimal())
	}
	return p, nil
}

// PlacePair 提交主单 + 对冲单。
//
// 失败语义：
//   - 主单失败 → 返回错误，不再尝试对冲（调用方不回滚计数器）
//   - 对冲价越界 → 跳过对冲，大声记日志，主单不回滚，不算错误
//   - 对冲提交失败 → 记日志并带回错误，主单不回滚
func (x *Executor) PlacePair(ctx context.Context, market *domain.Market, d *TradeDecision) (*PairResult, error) {
	if market == nil || d == nil {
		return nil, fmt.Errorf("executor: nil market or decision")
	}

	res := &PairResult{}

	primaryPrice := x.PrimaryPrice(d.PrimaryAsk)
	primary := x.buildOrder(market, d.MarketSlug, d.Primary, primaryPrice, d.Size)

	placed, err := x.place(ctx, primary)
	if err != nil {
		metrics.OrderErrors.Add(1)
		x.log.Errorf("❌ 主单提交失败: market=%s token=%s price=%.4f err=%v",
			d.MarketSlug, d.Primary, primaryPrice.ToDecimal(), err)
		return res, fmt.Errorf("place primary: %w", err)
	}
	res.Primary = placed
	metrics.TradesPlaced.Add(1)
	x.log.Infof("✅ 主单已提交: market=%s token=%s price=%.4f size=%.2f orderID=%s",
		d.MarketSlug, d.Primary, primaryPrice.ToDecimal(), d.Size, placed.OrderID)

	hedgePrice, err := HedgePrice(d.PrimaryAsk)
	if err != nil {
		res.HedgeSkipped = true
		metrics.HedgesSkipped.Add(1)
		// 主单已在场内而对冲缺位：这是被接受的非对称风险，必须大声记录
		x.log.Warnf("⚠️ 对冲单被跳过（主单不回滚）: market=%s primaryAsk=%.4f err=%v",
			d.MarketSlug, d.PrimaryAsk.ToDecimal(), err)
		return res, nil
	}

	hedgeToken := d.Primary.Opposite()
	hedge := x.buildOrder(market, d.MarketSlug, hedgeToken, hedgePrice, d.Size)

	placedHedge, err := x.place(ctx, hedge)
	if err != nil {
		metrics.OrderErrors.Add(1)
		x.log.Errorf("❌ 对冲单提交失败（主单不回滚）: market=%s token=%s price=%.4f err=%v",
			d.MarketSlug, hedgeToken, hedgePrice.ToDecimal(), err)
		return res, fmt.Errorf("place hedge: %w", err)
	}
	res.Hedge = placedHedge
	metrics.TradesPlaced.Add(1)
	x.log.Infof("✅ 对冲单已提交: market=%s token=%s price=%.4f size=%.2f orderID=%s",
		d.MarketSlug, hedgeToken, hedgePrice.ToDecimal(), d.Size, placedHedge.OrderID)

	return res, nil
}

func (x *Executor) buildOrder(market *domain.Market, slug string, token domain.TokenType, price domain.Price, size float64) *domain.Order {
	return &domain.Order{
		ClientID:   uuid.NewString(),
		MarketSlug: slug,
		AssetID:    market.AssetID(token),
		TokenType:  token,
		Side:       domain.SideBuy,
		Price:      price,
		Size:       size,
		OrderType:  domain.OrderTypeGTC,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now(),
	}
}

func (x *Executor) place(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if x.dryRun {
		o := *order
		o.OrderID = "dry-" + o.ClientID
		o.Status = domain.OrderStatusOpen
		return &o, nil
	}
	return x.orders.PlaceOrder(ctx, order)
}

// TrackOrder 有界轮询订单状态直到最终态或用尽次数。
// 返回最后一次看到的订单视图；用尽次数不算错误。
func (x *Executor) TrackOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if x.dryRun || orderID == "" {
		return nil, nil
	}

	interval := x.poll.Initial
	var last *domain.Order
	for attempt := 0; attempt < x.poll.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := x.sleeper.Sleep(ctx, interval); err != nil {
				return last, err
			}
			interval = time.Duration(float64(interval) * x.poll.Multiplier)
			if interval > x.poll.Cap {
				interval = x.poll.Cap
			}
		}

		o, err := x.orders.GetOrderStatus(ctx, orderID)
		if err != nil {
			x.log.Debugf("🔄 查询订单状态失败 (attempt=%d): orderID=%s err=%v", attempt+1, orderID, err)
			continue
		}
		last = o
		if o.IsFinalStatus() {
			return o, nil
		}
	}

	x.log.Debugf("⏭️ 放弃订单状态跟踪（已达最大次数）: orderID=%s attempts=%d", orderID, x.poll.MaxAttempts)
	return last, nil
}
