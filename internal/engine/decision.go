package engine

import (
	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/predictor"
)

// SideCounters 单个周期内每侧已提交的交易次数。
//
// 注意：每次被接受的决策会同时递增两个计数器（主单 + 对冲单各占一侧），
// 所以 MaxPerSide 实际表现为"按双份计数的周期总量上限"。
// 这是对原始行为的刻意保留，不是疏漏。
type SideCounters struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

// WindowState 周期内决策状态：计数器 + 暂停标记。
// 归属决策引擎，所有读写都在引擎锁内完成（先递增、后异步下单）。
type WindowState struct {
	Slug     string       `json:"slug"`
	Counters SideCounters `json:"counters"`
	Paused   bool         `json:"paused"`
}

func NewWindowState(slug string) *WindowState {
	return &WindowState{Slug: slug}
}

// TradeDecision 一次已通过所有闸门的交易意图：主单买入某侧 + 对冲买入另一侧。
type TradeDecision struct {
	MarketSlug string
	Primary    domain.TokenType
	PrimaryAsk domain.Price
	Size       float64
	Prediction *predictor.Prediction
}

// RejectReason 决策被拒绝的原因（日志/测试用）
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectLowConfidence RejectReason = "low_confidence"
	RejectHold          RejectReason = "hold"
	RejectPaused        RejectReason = "paused"
	RejectSideCapped    RejectReason = "side_capped"
	RejectNoAsk         RejectReason = "no_ask"
)

// Decider 把（预测, 双侧 best ask, 周期状态）映射为零或一个交易决策。
type Decider struct {
	// MinConfidence 低于该置信度的预测直接放弃
	MinConfidence float64
	// MaxPerSide 每侧计数上限（0 = 不限制）
	MaxPerSide int
	// Shares 每侧下单数量
	Shares float64
}

// Decide 评估一次预测。返回非空决策时，st 的计数器已经被同步递增
// （两侧一起），调用方必须在持有引擎锁的情况下调用，然后才能发起异步下单。
func (d *Decider) Decide(st *WindowState, pred *predictor.Prediction, upAsk, downAsk domain.Price) (*TradeDecision, RejectReason) {
	if pred == nil || st == nil {
		return nil, RejectHold
	}
	if pred.Signal == predictor.SignalHold {
		return nil, RejectHold
	}
	if pred.Confidence < d.MinConfidence {
		return nil, RejectLowConfidence
	}
	if st.Paused {
		return nil, RejectPaused
	}

	primary := domain.TokenTypeUp
	ask := upAsk
	sideCount := st.Counters.Up
	if pred.Signal == predictor.SignalBuyDown {
		primary = domain.TokenTypeDown
		ask = downAsk
		sideCount = st.Counters.Down
	}

	if !ask.InBook() {
		return nil, RejectNoAsk
	}
	if d.MaxPerSide > 0 && sideCount >= d.MaxPerSide {
		return nil, RejectSideCapped
	}

	// 先递增再下单：两个并发决策不可能都通过上面的 cap 检查。
	// 每次决策同时占用两侧各一个名额（主单 + 对冲单）。
	st.Counters.Up++
	st.Counters.Down++
	if d.MaxPerSide > 0 && st.Counters.Up >= d.MaxPerSide && st.Counters.Down >= d.MaxPerSide {
		st.Paused = true
	}

	return &TradeDecision{
		MarketSlug: st.Slug,
		Primary:    primary,
		PrimaryAsk: ask,
		Size:       d.Shares,
		Prediction: pred,
	}, RejectNone
}
