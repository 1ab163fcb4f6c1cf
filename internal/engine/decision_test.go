package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/predictor"
)

func buyUpPrediction(conf float64) *predictor.Prediction {
	return &predictor.Prediction{
		Confidence: conf,
		Direction:  predictor.DirectionUp,
		Signal:     predictor.SignalBuyUp,
	}
}

func TestDecide_Gates(t *testing.T) {
	d := &Decider{MinConfidence: 0.50, MaxPerSide: 3, Shares: 5}
	up := domain.PriceFromDecimal(0.55)
	down := domain.PriceFromDecimal(0.45)

	st := NewWindowState("btc-updown-15m-1")

	// HOLD 信号
	hold := buyUpPrediction(0.80)
	hold.Signal = predictor.SignalHold
	dec, reason := d.Decide(st, hold, up, down)
	assert.Nil(t, dec)
	assert.Equal(t, RejectHold, reason)

	// 置信度不足
	dec, reason = d.Decide(st, buyUpPrediction(0.45), up, down)
	assert.Nil(t, dec)
	assert.Equal(t, RejectLowConfidence, reason)

	// 盘口缺失
	dec, reason = d.Decide(st, buyUpPrediction(0.80), domain.Price{}, down)
	assert.Nil(t, dec)
	assert.Equal(t, RejectNoAsk, reason)
	assert.Zero(t, st.Counters.Up, "被拒绝的决策不得占用名额")

	// 暂停的周期
	st.Paused = true
	dec, reason = d.Decide(st, buyUpPrediction(0.80), up, down)
	assert.Nil(t, dec)
	assert.Equal(t, RejectPaused, reason)
}

func TestDecide_PairedCountersAndCap(t *testing.T) {
	d := &Decider{MinConfidence: 0.50, MaxPerSide: 3, Shares: 5}
	up := domain.PriceFromDecimal(0.55)
	down := domain.PriceFromDecimal(0.45)
	st := NewWindowState("btc-updown-15m-1")

	// 3 次 BUY_UP 决策被接受，每次两侧计数器一起递增
	for i := 1; i <= 3; i++ {
		dec, reason := d.Decide(st, buyUpPrediction(0.80), up, down)
		require.NotNil(t, dec, "第 %d 次决策应当通过", i)
		assert.Equal(t, RejectNone, reason)
		assert.Equal(t, domain.TokenTypeUp, dec.Primary)
		assert.Equal(t, up, dec.PrimaryAsk)
		assert.Equal(t, i, st.Counters.Up)
		assert.Equal(t, i, st.Counters.Down)
	}
	// 双侧同时到达上限 → 周期暂停
	assert.True(t, st.Paused)

	// 第 4 次即使置信度/信号都满足也必须被拒绝
	dec, reason := d.Decide(st, buyUpPrediction(0.90), up, down)
	assert.Nil(t, dec)
	assert.Equal(t, RejectPaused, reason)
	assert.Equal(t, 3, st.Counters.Up)
	assert.Equal(t, 3, st.Counters.Down)
}

func TestDecide_BuyDownUsesDownAsk(t *testing.T) {
	d := &Decider{MinConfidence: 0.50, MaxPerSide: 0, Shares: 5}
	up := domain.PriceFromDecimal(0.55)
	down := domain.PriceFromDecimal(0.45)
	st := NewWindowState("btc-updown-15m-1")

	pred := buyUpPrediction(0.80)
	pred.Signal = predictor.SignalBuyDown
	pred.Direction = predictor.DirectionDown

	dec, reason := d.Decide(st, pred, up, down)
	require.NotNil(t, dec)
	assert.Equal(t, RejectNone, reason)
	assert.Equal(t, domain.TokenTypeDown, dec.Primary)
	assert.Equal(t, down, dec.PrimaryAsk)
}

func TestDecide_UnlimitedWhenMaxZero(t *testing.T) {
	d := &Decider{MinConfidence: 0.50, MaxPerSide: 0, Shares: 5}
	up := domain.PriceFromDecimal(0.55)
	down := domain.PriceFromDecimal(0.45)
	st := NewWindowState("btc-updown-15m-1")

	for i := 0; i < 50; i++ {
		dec, _ := d.Decide(st, buyUpPrediction(0.80), up, down)
		require.NotNil(t, dec)
	}
	assert.False(t, st.Paused)
	assert.Equal(t, 50, st.Counters.Up)
}
