package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/polebet/internal/common"
	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/events"
	"github.com/betbot/polebet/internal/marketstate"
	"github.com/betbot/polebet/internal/metrics"
	"github.com/betbot/polebet/internal/ports"
	"github.com/betbot/polebet/internal/predictor"
	"github.com/betbot/polebet/pkg/marketspec"
	"github.com/betbot/polebet/pkg/persistence"
)

// PersistedWindow 单个周期的持久化簿记（仅用于进程重启后的对账，不参与交易决策）
type PersistedWindow struct {
	PreviousPrice float64   `json:"previousPrice"`
	LastUpdated   time.Time `json:"lastUpdated"`
	ConditionID   string    `json:"conditionId"`
	Market        string    `json:"market"`
	UpIndex       int       `json:"upIndex"`
	DownIndex     int       `json:"downIndex"`
	UpShares      float64   `json:"upShares"`
	DownShares    float64   `json:"downShares"`
	Cost          float64   `json:"cost"`
}

// Options 引擎装配参数。Listing 必填，其余可空（空则对应能力关闭）。
type Options struct {
	Spec    marketspec.MarketSpec
	Listing ports.ListingService
	Orders  ports.OrderService
	Recorder ports.TradeRecorder
	Store   persistence.Store

	Predictor predictor.Config

	// 交易参数
	SharesPerSide  float64
	MaxPerSide     int
	MinConfidence  float64
	TickCents      int
	Warmup         time.Duration
	DryRun         bool
	SaveDebounce   time.Duration
	OrderTimeout   time.Duration
	TransitionTick time.Duration
}

// Engine 单个市场的预测-执行引擎。
//
// 事件流：feed 推送 best bid/ask → 周期检查 → 盘口缓存 → 预测器喂价
// → pole 触发预测 → 决策（同步递增计数器）→ 异步配对下单 → 评分。
//
// 一个 Engine 实例独占一个市场（预测器状态不跨市场共享）。
type Engine struct {
	opts Options
	log  *logrus.Entry

	pred     *predictor.Predictor
	decider  Decider
	executor *Executor
	scores   *ScoreTracker
	book     *marketstate.AtomicBestBook
	saveGate *common.Debouncer

	onWindowChanged func(*domain.Market)

	mu          sync.Mutex
	currentSlug string
	market      *domain.Market
	state       *WindowState
	windowStart time.Time
	lastPred    *predictor.Prediction
	firstSeenAt time.Time
	persisted   map[string]*PersistedWindow

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(opts Options) (*Engine, error) {
	if opts.Listing == nil {
		return nil, fmt.Errorf("engine: listing service is required")
	}
	if opts.SharesPerSide <= 0 {
		opts.SharesPerSide = 5
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 0.50
	}
	if opts.OrderTimeout <= 0 {
		opts.OrderTimeout = 25 * time.Second
	}
	if opts.TransitionTick <= 0 {
		opts.TransitionTick = 10 * time.Second
	}
	opts.Predictor.Defaults()

	e := &Engine{
		opts:     opts,
		log:      logrus.WithField("engine", opts.Spec.SlugPrefix()),
		pred:     predictor.New(opts.Predictor),
		scores:   NewScoreTracker(opts.Predictor.NoiseThreshold, opts.Recorder),
		book:     marketstate.NewAtomicBestBook(),
		saveGate: common.NewDebouncer(opts.SaveDebounce),
		decider: Decider{
			MinConfidence: opts.MinConfidence,
			MaxPerSide:    opts.MaxPerSide,
			Shares:        opts.SharesPerSide,
		},
		persisted: make(map[string]*PersistedWindow),
	}
	if opts.Orders != nil || opts.DryRun {
		e.executor = NewExecutor(opts.Orders, opts.TickCents, opts.DryRun)
	}
	return e, nil
}

// OnWindowChanged 注册周期切换回调（feed 重订阅用）。Start 之前调用。
func (e *Engine) OnWindowChanged(fn func(*domain.Market)) { e.onWindowChanged = fn }

// Book 返回引擎的盘口缓存（feed 写入用；指针在整个生命周期内不变）。
func (e *Engine) Book() *marketstate.AtomicBestBook { return e.book }

// CurrentMarket 返回当前周期的市场定义（可能为 nil）。
func (e *Engine) CurrentMarket() *domain.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market
}

// Start 加载持久化状态、解析初始周期并启动周期检查定时器。
// 初始周期尚未上架（ErrWindowNotListed）不是致命错误：定时器会持续重试。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.firstSeenAt = time.Now()
	e.mu.Unlock()

	e.loadPersisted()

	e.runCtx, e.cancel = context.WithCancel(context.Background())

	if err := e.CheckTransition(ctx, time.Now()); err != nil && !errors.Is(err, ports.ErrWindowNotListed) {
		return fmt.Errorf("resolve initial window: %w", err)
	}

	e.wg.Add(1)
	go e.transitionLoop()

	e.log.Infof("✅ 引擎已启动: market=%s slug=%s dryRun=%v maxPerSide=%d",
		e.opts.Spec.Symbol, e.currentWindowSlug(), e.opts.DryRun, e.opts.MaxPerSide)
	return nil
}

// Stop 停止定时器、等待在途下单收尾，并同步冻结所有仍活跃的周期评分。
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.scores.FinalizeAll(time.Now())
	e.savePersisted(true)
	e.log.Info("🛑 引擎已停止，所有周期评分已冻结")
}

func (e *Engine) transitionLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.TransitionTick)
	defer ticker.Stop()

	for {
		select {
		case <-e.runCtx.Done():
			return
		case now := <-ticker.C:
			// 静默时段（没有价格流）也能触发周期切换
			if err := e.CheckTransition(e.runCtx, now); err != nil && !errors.Is(err, ports.ErrWindowNotListed) {
				e.log.Warnf("⚠️ 周期检查失败: err=%v", err)
			}
		}
	}
}

func (e *Engine) currentWindowSlug() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentSlug
}

// CheckTransition 比较当前时刻的 window slug 与记录值，不一致时执行切换：
// 冻结旧周期评分 → 重置周期内状态（计数器/盘口缓存/预测器 episodic 状态，
// 权重保留）→ 解析新周期。解析失败时不推进记录的 slug，下次检查重试。
func (e *Engine) CheckTransition(ctx context.Context, now time.Time) error {
	slug := e.opts.Spec.CurrentSlug(now)

	e.mu.Lock()
	if slug == e.currentSlug {
		e.mu.Unlock()
		return nil
	}
	old := e.currentSlug
	e.mu.Unlock()

	resolveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	market, err := e.opts.Listing.Resolve(resolveCtx, slug)
	cancel()
	if err != nil {
		if errors.Is(err, ports.ErrWindowNotListed) {
			e.log.Debugf("🔄 新周期尚未上架，保持旧周期等待重试: slug=%s", slug)
		}
		return err
	}
	if market == nil || !market.IsValid() {
		return fmt.Errorf("listing returned invalid market for %s", slug)
	}

	start := time.Unix(e.opts.Spec.CurrentPeriodStartUnix(now), 0)

	e.mu.Lock()
	// 解析期间可能已有并发检查完成了切换
	if e.currentSlug == slug {
		e.mu.Unlock()
		return nil
	}
	e.currentSlug = slug
	e.market = market
	e.state = NewWindowState(slug)
	e.windowStart = start
	e.lastPred = nil
	e.pred.Reset()
	e.book.Reset()
	e.persisted[slug] = &PersistedWindow{
		LastUpdated: now,
		ConditionID: market.ConditionID,
		Market:      e.opts.Spec.Symbol,
		UpIndex:     market.UpOutcomeIndex,
		DownIndex:   market.DownOutcomeIndex,
	}
	e.mu.Unlock()

	metrics.WindowTransitions.Add(1)
	if old != "" {
		e.scores.Finalize(old, now)
	}
	e.scores.Track(slug, start)
	e.savePersisted(true)

	if old == "" {
		e.log.Infof("✅ 初始周期已解析: slug=%s conditionId=%s", slug, market.ConditionID)
	} else {
		e.log.Infof("🔄 周期切换: %s -> %s（计数器/预测器周期状态已重置，权重保留）", old, slug)
	}

	if e.onWindowChanged != nil {
		e.onWindowChanged(market)
	}
	return nil
}

// OnPriceChanged feed 回调入口。稳态路径永不向上传播错误：
// 所有内部失败都在此捕获并记录，不中断价格流。
func (e *Engine) OnPriceChanged(ctx context.Context, ev *events.PriceChangedEvent) error {
	if ev == nil {
		return nil
	}
	metrics.PriceUpdates.Add(1)

	// 价格事件本身也驱动周期检查（定时器只兜底静默时段）
	if err := e.CheckTransition(ctx, ev.Timestamp); err != nil && !errors.Is(err, ports.ErrWindowNotListed) {
		e.log.Debugf("⏭️ 周期检查失败（继续处理价格）: err=%v", err)
	}

	e.mu.Lock()
	if e.market == nil || e.state == nil {
		e.mu.Unlock()
		return nil
	}
	slug := e.currentSlug
	market := e.market
	warmedUp := e.opts.Warmup <= 0 || time.Since(e.firstSeenAt) >= e.opts.Warmup
	e.mu.Unlock()

	// 盘口缓存先行更新：哪怕预热期/HOLD，另一侧的决策也要读到最新 ask
	e.book.UpdateToken(ev.TokenType, uint16(ev.BestBid.Pips), uint16(ev.BestAsk.Pips))

	if !warmedUp {
		return nil
	}

	// 预测序列只取 UP 侧 best ask：一对互补 token 价格和恒约为 1，
	// 双侧同时喂价只会让模型学到同一条信息的镜像。
	if ev.TokenType != domain.TokenTypeUp || !ev.BestAsk.InBook() {
		return nil
	}

	raw := ev.BestAsk.ToDecimal()
	e.notePrice(slug, raw, ev.Timestamp)

	pred := e.pred.Update(raw, ev.Timestamp)
	if pred == nil {
		return nil
	}
	metrics.PolesDetected.Add(1)
	metrics.PredictionsTotal.Add(1)

	e.mu.Lock()
	if e.currentSlug != slug {
		// 预测横跨了周期边界，丢弃
		e.mu.Unlock()
		return nil
	}
	if e.lastPred != nil {
		prev := e.lastPred
		e.mu.Unlock()
		e.scores.RecordOutcome(slug, prev, prev.BasePrice, pred.BasePrice)
		e.mu.Lock()
		if e.currentSlug != slug {
			e.mu.Unlock()
			return nil
		}
	}
	e.lastPred = pred

	snap := e.book.Load()
	upAsk := domain.Price{Pips: int(snap.UpAskPips)}
	downAsk := domain.Price{Pips: int(snap.DownAskPips)}

	decision, reject := e.decider.Decide(e.state, pred, upAsk, downAsk)
	windowStart := e.windowStart
	e.mu.Unlock()

	if decision == nil {
		if reject != RejectHold {
			e.log.Debugf("⏭️ 决策被拒: market=%s reason=%s conf=%.2f signal=%s", slug, reject, pred.Confidence, pred.Signal)
		}
		return nil
	}
	if e.executor == nil {
		e.log.Warnf("⚠️ 决策通过但执行器未配置，放弃下单: market=%s", slug)
		return nil
	}

	e.log.Infof("🎯 交易决策: market=%s side=%s ask=%.4f conf=%.2f signal=%s counters=up:%d/down:%d",
		slug, decision.Primary, decision.PrimaryAsk.ToDecimal(), pred.Confidence, pred.Signal,
		e.stateCounters().Up, e.stateCounters().Down)

	// 重活移出价格回调路径：计数器已同步占位，下单异步完成
	e.wg.Add(1)
	go e.placeAsync(market, decision, windowStart)

	return nil
}

func (e *Engine) stateCounters() SideCounters {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return SideCounters{}
	}
	return e.state.Counters
}

// placeAsync 提交配对订单并记录评分。提交失败不回滚计数器：
// 宁可少用掉一个交易名额，也不冒重复下单的风险。
func (e *Engine) placeAsync(market *domain.Market, d *TradeDecision, windowStart time.Time) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.runCtx, e.opts.OrderTimeout)
	defer cancel()

	res, err := e.executor.PlacePair(ctx, market, d)
	if err != nil {
		e.log.Errorf("❌ 配对下单失败（计数器不回滚）: market=%s err=%v", d.MarketSlug, err)
	}
	if res == nil {
		return
	}

	if res.Primary != nil {
		rec := &TradeRecord{
			PredictedDirection: d.Prediction.Direction,
			PredictedPrice:     d.Prediction.Price,
			Confidence:         d.Prediction.Confidence,
			BuyPrice:           res.Primary.Price,
			Side:               d.Primary,
			Cost:               res.Primary.Price.ToDecimal() * d.Size,
			At:                 res.Primary.CreatedAt,
		}
		e.scores.RecordTrade(d.MarketSlug, windowStart, rec)
		e.recordTrade(ctx, res.Primary, d.Prediction)
		e.noteFill(d.MarketSlug, res.Primary)
		e.trackAsync(res.Primary.OrderID)
	}
	if res.Hedge != nil {
		c := true // 对冲腿不参与方向评分，直接视为已结算
		rec := &TradeRecord{
			PredictedDirection: d.Prediction.Direction,
			PredictedPrice:     d.Prediction.Price,
			Confidence:         d.Prediction.Confidence,
			BuyPrice:           res.Hedge.Price,
			Side:               d.Primary.Opposite(),
			Cost:               res.Hedge.Price.ToDecimal() * d.Size,
			At:                 res.Hedge.CreatedAt,
			WasCorrect:         &c,
		}
		e.scores.RecordTrade(d.MarketSlug, windowStart, rec)
		e.recordTrade(ctx, res.Hedge, d.Prediction)
		e.noteFill(d.MarketSlug, res.Hedge)
		e.trackAsync(res.Hedge.OrderID)
	}
}

func (e *Engine) recordTrade(ctx context.Context, o *domain.Order, pred *predictor.Prediction) {
	if e.opts.Recorder == nil || o == nil {
		return
	}
	t := &domain.RecordedTrade{
		MarketSlug:         o.MarketSlug,
		TokenType:          o.TokenType,
		Side:               o.Side,
		Price:              o.Price.ToDecimal(),
		Size:               o.Size,
		Cost:               o.Price.ToDecimal() * o.Size,
		PredictedDirection: string(pred.Direction),
		Confidence:         pred.Confidence,
		At:                 o.CreatedAt,
	}
	if err := e.opts.Recorder.RecordTrade(ctx, t); err != nil {
		e.log.Warnf("⚠️ 成交记录落库失败: orderID=%s err=%v", o.OrderID, err)
	}
}

func (e *Engine) trackAsync(orderID string) {
	if orderID == "" {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.executor.TrackOrder(e.runCtx, orderID); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Debugf("🔄 订单跟踪中断: orderID=%s err=%v", orderID, err)
		}
	}()
}

// noteFill 把已提交订单累计到持久化簿记（结算对账用的持仓口径）
func (e *Engine) noteFill(slug string, o *domain.Order) {
	if o == nil {
		return
	}
	e.mu.Lock()
	if w, ok := e.persisted[slug]; ok {
		w.Cost += o.Price.ToDecimal() * o.Size
		switch o.TokenType {
		case domain.TokenTypeUp:
			w.UpShares += o.Size
		case domain.TokenTypeDown:
			w.DownShares += o.Size
		}
		w.LastUpdated = time.Now()
	}
	e.mu.Unlock()
	e.savePersisted(false)
}

// notePrice 更新持久化簿记里的最新价格（防抖写盘）
func (e *Engine) notePrice(slug string, price float64, at time.Time) {
	e.mu.Lock()
	if w, ok := e.persisted[slug]; ok {
		w.PreviousPrice = price
		w.LastUpdated = at
	}
	e.mu.Unlock()
	e.savePersisted(false)
}

func (e *Engine) loadPersisted() {
	if e.opts.Store == nil {
		return
	}
	var m map[string]*PersistedWindow
	if err := e.opts.Store.Load(&m); err != nil {
		if !errors.Is(err, persistence.ErrNotExists) {
			e.log.Warnf("⚠️ 持久化状态加载失败（从空状态继续）: err=%v", err)
		}
		return
	}
	e.mu.Lock()
	e.persisted = m
	if e.persisted == nil {
		e.persisted = make(map[string]*PersistedWindow)
	}
	n := len(e.persisted)
	e.mu.Unlock()
	e.log.Infof("✅ 已加载持久化状态: windows=%d", n)
}

// savePersisted 持久化写失败只记日志，交易继续走内存状态。
func (e *Engine) savePersisted(force bool) {
	if e.opts.Store == nil {
		return
	}
	if !force {
		if ready, _ := e.saveGate.ReadyNow(); !ready {
			return
		}
	}

	e.mu.Lock()
	snapshot := make(map[string]*PersistedWindow, len(e.persisted))
	for k, v := range e.persisted {
		c := *v
		snapshot[k] = &c
	}
	e.mu.Unlock()

	if err := e.opts.Store.Save(snapshot); err != nil {
		e.log.Warnf("⚠️ 持久化写入失败: err=%v", err)
		return
	}
	e.saveGate.MarkNow()
	metrics.SnapshotSaves.Add(1)
}
