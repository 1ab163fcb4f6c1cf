package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/ports"
	"github.com/betbot/polebet/internal/predictor"
)

// TradeRecord 一笔已提交交易的评分视角记录。
// WasCorrect 在下单时未知（nil），下一个 pole 揭示真实方向后回填。
type TradeRecord struct {
	PredictedDirection predictor.Direction `json:"predictedDirection"`
	PredictedPrice     float64             `json:"predictedPrice"`
	Confidence         float64             `json:"confidence"`
	BuyPrice           domain.Price        `json:"buyPrice"`
	Side               domain.TokenType    `json:"side"`
	Cost               float64             `json:"cost"`
	At                 time.Time           `json:"at"`
	WasCorrect         *bool               `json:"wasCorrect"`
}

// WindowScore 单个周期的累计统计。finalized 之后只读且被逐出活跃集合。
type WindowScore struct {
	Slug               string
	StartTime          time.Time
	EndTime            *time.Time
	TotalPredictions   int
	CorrectPredictions int
	UpCost             float64
	DownCost           float64
	UpCount            int
	DownCount          int
	Trades             []*TradeRecord

	finalized bool
}

// SuccessRate 预测正确率；无样本返回 0。
func (w *WindowScore) SuccessRate() float64 {
	if w.TotalPredictions == 0 {
		return 0
	}
	return float64(w.CorrectPredictions) / float64(w.TotalPredictions)
}

// ScoreTracker 维护所有活跃周期的评分，周期结束时冻结并输出汇总。
type ScoreTracker struct {
	mu        sync.Mutex
	windows   map[string]*WindowScore
	finalized map[string]struct{} // 冻结至多一次的再入保护

	// moveThreshold: 实际方向判定阈值，小于它退化为非严格符号比较
	moveThreshold float64

	recorder ports.TradeRecorder
	log      *logrus.Entry
}

func NewScoreTracker(moveThreshold float64, recorder ports.TradeRecorder) *ScoreTracker {
	if moveThreshold <= 0 {
		moveThreshold = 0.02
	}
	return &ScoreTracker{
		windows:       make(map[string]*WindowScore),
		finalized:     make(map[string]struct{}),
		moveThreshold: moveThreshold,
		recorder:      recorder,
		log:           logrus.WithField("component", "score"),
	}
}

// Track 返回某周期的评分对象，不存在则创建。
func (t *ScoreTracker) Track(slug string, start time.Time) *WindowScore {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackLocked(slug, start)
}

func (t *ScoreTracker) trackLocked(slug string, start time.Time) *WindowScore {
	if w, ok := t.windows[slug]; ok {
		return w
	}
	w := &WindowScore{Slug: slug, StartTime: start}
	if _, done := t.finalized[slug]; done {
		// 已冻结的周期不再回到活跃集合：迟到的写入落在孤立对象上被丢弃
		w.finalized = true
		return w
	}
	t.windows[slug] = w
	return w
}

// RecordTrade 在下单时追加记录（WasCorrect 未知）。
func (t *ScoreTracker) RecordTrade(slug string, start time.Time, rec *TradeRecord) {
	if rec == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.trackLocked(slug, start)
	if w.finalized {
		return
	}
	w.Trades = append(w.Trades, rec)
	switch rec.Side {
	case domain.TokenTypeUp:
		w.UpCount++
		w.UpCost += rec.Cost
	case domain.TokenTypeDown:
		w.DownCount++
		w.DownCost += rec.Cost
	}
}

// RecordOutcome 用最新价格结算上一次预测。
//
// 实际方向：位移 ≥ +阈值 为 up、≤ −阈值 为 down；更小的位移退化为
// 非严格符号比较（接近零的移动按延续处理，不存在"中性结果"）。
// 同时回填该周期最近一条未结算的 TradeRecord。
func (t *ScoreTracker) RecordOutcome(slug string, prev *predictor.Prediction, prevPrice, curPrice float64) {
	if prev == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[slug]
	if !ok || w.finalized {
		return
	}

	actual := predictor.DirectionOfMove(curPrice-prevPrice, t.moveThreshold)
	correct := actual == prev.Direction

	w.TotalPredictions++
	if correct {
		w.CorrectPredictions++
	}

	// 回填最近一条未结算的交易
	for i := len(w.Trades) - 1; i >= 0; i-- {
		if w.Trades[i].WasCorrect == nil {
			c := correct
			w.Trades[i].WasCorrect = &c
			break
		}
	}

	t.log.Debugf("📊 结算预测: market=%s predicted=%s actual=%s correct=%v move=%.4f",
		slug, prev.Direction, actual, correct, curPrice-prevPrice)
}

// Finalize 冻结一个周期：计算时长/成功率/成本，输出汇总日志并逐出。
// 幂等：已冻结或不存在的周期直接跳过，返回 nil。
func (t *ScoreTracker) Finalize(slug string, now time.Time) *WindowScore {
	t.mu.Lock()
	w, ok := t.windows[slug]
	if !ok || w.finalized {
		t.mu.Unlock()
		return nil
	}
	w.finalized = true
	t.finalized[slug] = struct{}{}
	end := now
	w.EndTime = &end
	delete(t.windows, slug)
	t.mu.Unlock()

	totalCost := w.UpCost + w.DownCost
	t.log.Infof("🏁 周期汇总: market=%s duration=%v predictions=%d/%d (%.0f%%) trades=up:%d/down:%d cost=up:%.2f/down:%.2f/total:%.2f",
		slug, end.Sub(w.StartTime).Round(time.Second),
		w.CorrectPredictions, w.TotalPredictions, w.SuccessRate()*100,
		w.UpCount, w.DownCount, w.UpCost, w.DownCost, totalCost)

	if t.recorder != nil {
		summary := &domain.WindowSummary{
			MarketSlug:         w.Slug,
			StartTime:          w.StartTime,
			EndTime:            end,
			TotalPredictions:   w.TotalPredictions,
			CorrectPredictions: w.CorrectPredictions,
			UpCount:            w.UpCount,
			DownCount:          w.DownCount,
			UpCost:             w.UpCost,
			DownCost:           w.DownCost,
			TotalCost:          totalCost,
		}
		if err := t.recorder.RecordWindowSummary(context.Background(), summary); err != nil {
			t.log.Warnf("⚠️ 周期汇总落库失败: market=%s err=%v", slug, err)
		}
	}
	return w
}

// FinalizeAll 冻结所有仍活跃的周期（进程退出路径，同步执行）。
func (t *ScoreTracker) FinalizeAll(now time.Time) {
	t.mu.Lock()
	slugs := make([]string, 0, len(t.windows))
	for slug := range t.windows {
		slugs = append(slugs, slug)
	}
	t.mu.Unlock()

	for _, slug := range slugs {
		t.Finalize(slug, now)
	}
}

// ActiveWindows 仍在跟踪中的周期数（测试/监控用）
func (t *ScoreTracker) ActiveWindows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
