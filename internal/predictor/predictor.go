package predictor

import (
	"math"
	"sync"
	"time"

	"github.com/betbot/polebet/pkg/logger"
)

// Predictor 在线价格方向预测器。
//
// 数据流（每次 Update）：
//
//	原始价 → 价格带过滤 → 噪声门控 → EMA 平滑 + 平滑带检查 → 历史缓冲
//	       → pole（局部极值）检测 → 特征 → 线性预测 + 在线学习 → 置信度/方向/信号
//
// 只有在检测到新 pole 时才会产出 *Prediction，其余路径一律返回 nil。
// 非并发安全的部分由内部锁保护，可被 WS 回调与周期切换 goroutine 同时调用。
type Predictor struct {
	mu  sync.Mutex
	cfg Config

	// 周期内状态（Reset 清空）
	seeded          bool
	lastAcceptedRaw float64
	ema             float64
	emaShort        float64
	emaLong         float64
	history         []float64
	lastPole        *Pole
	flatPoles       int // 连续"新 pole 与上一 pole 几乎同价"的次数
	lastPred        *Prediction
	lastInputs      *modelInputs

	// 跨周期学习状态（Reset 保留）
	weights  ModelWeights
	outcomes []bool // 滚动方向正确率窗口
	highConf []bool // 最近高置信度预测（>=0.70）的对错记录
}

func New(cfg Config) *Predictor {
	cfg.Defaults()
	return &Predictor{
		cfg:     cfg,
		history: make([]float64, 0, cfg.HistorySize),
		weights: defaultWeights(),
	}
}

// Update 喂入一个原始价格点。返回 nil 表示本次更新未触发预测。
func (p *Predictor) Update(raw float64, at time.Time) *Prediction {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 1. 价格带：带外的盘口已经失去方向信息（接近结算或流动性枯竭）
	if raw < p.cfg.MinPrice || raw > p.cfg.MaxPrice {
		return nil
	}

	// 2. 首个点只做种子，所有 EMA 从它起步
	if !p.seeded {
		p.seeded = true
		p.lastAcceptedRaw = raw
		p.ema = raw
		p.emaShort = raw
		p.emaLong = raw
		p.history = append(p.history, raw)
		return nil
	}

	// 3. 噪声门控：与上一个"被接受"的原始价比较，不是与上一个任意 tick 比较。
	// 连续微小漂移会被持续吞掉，直到累计变化跨过阈值。
	if math.Abs(raw-p.lastAcceptedRaw) < p.cfg.NoiseThreshold {
		return nil
	}
	p.lastAcceptedRaw = raw

	// 4. EMA 平滑
	p.ema = p.cfg.Smoothing*raw + (1-p.cfg.Smoothing)*p.ema
	p.emaShort = p.cfg.ShortSmoothing*raw + (1-p.cfg.ShortSmoothing)*p.emaShort
	p.emaLong = p.cfg.LongSmoothing*raw + (1-p.cfg.LongSmoothing)*p.emaLong

	if p.ema < p.cfg.MinPrice || p.ema > p.cfg.MaxPrice {
		return nil
	}

	// 5. 历史缓冲（定长，旧点滚动淘汰）
	p.history = append(p.history, p.ema)
	if len(p.history) > p.cfg.HistorySize {
		p.history = p.history[1:]
	}
	if len(p.history) < 3 {
		return nil
	}

	// 6. pole 检测：只有平滑序列出现被确认的拐点才继续
	pole, ok := p.detectPole(at)
	if !ok {
		return nil
	}

	return p.predictAt(pole, at)
}

// detectPole 反转式极值检测。
//
// 候选点是倒数第二个历史点：最新点的到来"确认"了候选点是否为拐点。
// 候选是 peak 当且仅当它严格高于最新点、且严格高于之前 Lookback 个点；
// trough 对称。这样单调段内不会产生任何 pole，每个拐点恰好产生一个。
func (p *Predictor) detectPole(at time.Time) (Pole, bool) {
	n := len(p.history)
	candidate := p.history[n-2]
	newest := p.history[n-1]

	lo := n - 2 - p.cfg.Lookback
	if lo < 0 {
		lo = 0
	}
	preceding := p.history[lo : n-2]
	if len(preceding) == 0 {
		return Pole{}, false
	}

	isPeak := candidate > newest
	isTrough := candidate < newest
	for _, v := range preceding {
		if candidate <= v {
			isPeak = false
		}
		if candidate >= v {
			isTrough = false
		}
	}

	var pole Pole
	switch {
	case isPeak:
		pole = Pole{Value: candidate, Type: PolePeak, At: at}
	case isTrough:
		pole = Pole{Value: candidate, Type: PoleTrough, At: at}
	default:
		return Pole{}, false
	}

	// 接受条件：首个 pole / 与上一 pole 价差超噪声 / 类型翻转
	if p.lastPole != nil {
		delta := math.Abs(pole.Value - p.lastPole.Value)
		if delta < p.cfg.NoiseThreshold && pole.Type == p.lastPole.Type {
			return Pole{}, false
		}
		if delta < p.cfg.NoiseThreshold*1.5 {
			p.flatPoles++
		} else {
			p.flatPoles = 0
		}
	}
	p.lastPole = &pole
	return pole, true
}

// predictAt pole 确认后的完整预测流程：学习 → 特征 → 线性预测 → 置信度/方向/信号
func (p *Predictor) predictAt(pole Pole, at time.Time) *Prediction {
	n := len(p.history)
	current := p.history[n-1]

	// 先结算上一次预测：方向对错驱动学习率，误差驱动权重更新
	if p.lastPred != nil && p.lastInputs != nil {
		realized := DirectionOfMove(current-p.lastPred.BasePrice, p.cfg.NoiseThreshold)
		correct := realized == p.lastPred.Direction

		std := p.lastInputs.std
		errNorm := (current - p.lastPred.Price) / std
		p.weights.learn(*p.lastInputs, errNorm, !correct)

		p.outcomes = append(p.outcomes, correct)
		if len(p.outcomes) > p.cfg.AccuracyWindow {
			p.outcomes = p.outcomes[1:]
		}
		if p.lastPred.Confidence >= 0.70 {
			p.highConf = append(p.highConf, correct)
			if len(p.highConf) > 10 {
				p.highConf = p.highConf[1:]
			}
		}
	}

	momentum := momentumOf(p.history, p.cfg.NoiseThreshold)
	_, volNorm := volatilityOf(p.history)
	trend := trendOf(p.emaShort, p.emaLong, momentum, p.history)
	feats := Features{Momentum: momentum, Volatility: volNorm, Trend: trend}

	mean, std := meanStd(p.history)
	in := modelInputs{
		lag1:     (p.history[n-1] - mean) / std,
		lag2:     (p.history[n-2] - mean) / std,
		lag3:     (p.history[n-3] - mean) / std,
		features: feats,
		mean:     mean,
		std:      std,
	}
	predicted := clip(mean+p.weights.predictNorm(in)*std, 0.001, 0.999)

	conf := p.confidence(predicted, current, feats)
	dir := p.direction(predicted, current, momentum, trend, pole)
	sig := p.signalFor(conf, dir, feats)

	pred := &Prediction{
		Price:      predicted,
		Confidence: conf,
		Direction:  dir,
		Signal:     sig,
		Features:   feats,
		BasePrice:  current,
		At:         at,
	}
	p.lastPred = pred
	p.lastInputs = &in

	logger.Debugf("🔮 pole=%s@%.4f 预测 price=%.4f dir=%s conf=%.2f signal=%s",
		pole.Type, pole.Value, predicted, dir, conf, sig)
	return pred
}

// direction 方向判定链，永不输出中性。
func (p *Predictor) direction(predicted, current, momentum, trend float64, pole Pole) Direction {
	diff := predicted - current
	threshold := p.cfg.NoiseThreshold
	if p.flatPoles >= 3 {
		threshold *= 2 // 走平时要求更大的预测位移才算有方向
	}

	if math.Abs(diff) > threshold {
		d := DirectionUp
		if diff < 0 {
			d = DirectionDown
		}
		// 动量与趋势同号且一致反对预测位移时，跟随它们
		if sign(momentum) != 0 && sign(momentum) == sign(trend) && sign(momentum) != sign(diff) {
			if momentum > 0 {
				return DirectionUp
			}
			return DirectionDown
		}
		return d
	}

	if trend > 0 {
		return DirectionUp
	}
	if trend < 0 {
		return DirectionDown
	}
	if momentum > 0 {
		return DirectionUp
	}
	if momentum < 0 {
		return DirectionDown
	}
	// 完全中性：取 pole 类型的反向（峰后向下、谷后向上），最后兜底 up
	if pole.Type == PolePeak {
		return DirectionDown
	}
	if pole.Type == PoleTrough {
		return DirectionUp
	}
	return DirectionUp
}

// Reset 周期切换时清空周期内状态，保留学习到的权重与正确率窗口。
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seeded = false
	p.lastAcceptedRaw = 0
	p.ema = 0
	p.emaShort = 0
	p.emaLong = 0
	p.history = p.history[:0]
	p.lastPole = nil
	p.flatPoles = 0
	p.lastPred = nil
	p.lastInputs = nil
}

// Weights 返回当前权重快照（持久化用）
func (p *Predictor) Weights() ModelWeights {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.weights
}

// RestoreWeights 从持久化状态恢复权重
func (p *Predictor) RestoreWeights(w ModelWeights) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weights = w
}

// Accuracy 滚动窗口方向正确率；样本不足时返回 0.5。
func (p *Predictor) Accuracy() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return accuracyOf(p.outcomes, len(p.outcomes))
}

// DirectionOfMove 把带符号的价格位移折算成方向。
// 位移超过阈值取其符号；否则退化为非严格符号判定（>=0 视为 up）。
func DirectionOfMove(delta, threshold float64) Direction {
	if delta >= threshold {
		return DirectionUp
	}
	if delta <= -threshold {
		return DirectionDown
	}
	if delta >= 0 {
		return DirectionUp
	}
	return DirectionDown
}
