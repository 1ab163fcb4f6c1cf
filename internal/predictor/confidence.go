package predictor

import "math"

// accuracyOf 最近 k 个结果的正确率；样本为空返回 0.5（无信息先验）。
func accuracyOf(outcomes []bool, k int) float64 {
	n := len(outcomes)
	if n == 0 || k <= 0 {
		return 0.5
	}
	if k > n {
		k = n
	}
	hits := 0
	for _, ok := range outcomes[n-k:] {
		if ok {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

func wrongRate(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	wrong := 0
	for _, ok := range outcomes {
		if !ok {
			wrong++
		}
	}
	return float64(wrong) / float64(len(outcomes))
}

// confidence 多因子加权置信度。
//
// 构成：低波动、趋势强度、动量强度、预测位移幅度、短/长期正确率、
// 动量与预测位移的一致性。再叠加三个修正：
//   - 高置信度预测近期频繁出错 → 扣减（压制过度自信）
//   - 价格连续走平 → 扣减
//   - 趋势与动量同向且都很强 → 加成
//
// 上限随长期正确率动态收缩：没打出成绩之前不允许声称高置信度。
func (p *Predictor) confidence(predicted, current float64, f Features) float64 {
	accShort := accuracyOf(p.outcomes, 5)
	accLong := accuracyOf(p.outcomes, p.cfg.AccuracyWindow)

	invVol := 1 - f.Volatility
	trendStr := math.Abs(f.Trend)
	momStr := math.Abs(f.Momentum)
	magStr := clip(math.Abs(predicted-current)/(4*p.cfg.NoiseThreshold), 0, 1)

	aligned := 0.0
	if sign(f.Momentum) != 0 && sign(f.Momentum) == sign(predicted-current) {
		aligned = 1
	}

	conf := p.cfg.MinConfidence + 0.5*(0.20*invVol+
		0.20*trendStr+
		0.15*momStr+
		0.15*magStr+
		0.10*accShort+
		0.10*accLong+
		0.10*aligned)

	if len(p.highConf) >= 4 && wrongRate(p.highConf) >= 0.5 {
		conf -= 0.08
	}
	if p.flatPoles >= 3 {
		conf -= 0.05
	}
	if sign(f.Trend) != 0 && sign(f.Trend) == sign(f.Momentum) && trendStr >= 0.5 && momStr >= 0.5 {
		conf += 0.05
	}

	ceil := p.cfg.MaxConfidence
	if len(p.outcomes) >= 8 {
		dyn := 0.50 + accLong*0.45
		if dyn < ceil {
			ceil = dyn
		}
	}
	if ceil < p.cfg.MinConfidence {
		ceil = p.cfg.MinConfidence
	}
	return clip(conf, p.cfg.MinConfidence, ceil)
}

// signalFor 把（方向, 置信度, 特征）映射到交易信号。
//
// 自上而下的置信度阶梯，每一档带各自的附加条件；
// 任何一档命中即给出买入信号，全部落空则 HOLD。
func (p *Predictor) signalFor(conf float64, dir Direction, f Features) Signal {
	buy := SignalBuyUp
	if dir == DirectionDown {
		buy = SignalBuyDown
	}

	trendStr := math.Abs(f.Trend)
	momStr := math.Abs(f.Momentum)
	accShort := accuracyOf(p.outcomes, 5)
	accLong := accuracyOf(p.outcomes, p.cfg.AccuracyWindow)

	// 长期正确率越差，中档信号的门槛越高
	adaptiveMin := clip(0.50+(0.5-accLong)*0.24, 0.50, 0.62)

	momAgrees := agreesWith(f.Momentum, dir)
	trendAgrees := agreesWith(f.Trend, dir)

	if conf >= 0.75 && f.Volatility < 0.95 {
		return buy
	}
	if conf >= 0.68 && (trendStr >= 0.3 || momStr >= 0.3) {
		return buy
	}
	if conf >= 0.62 && momAgrees && f.Volatility <= 0.7 {
		return buy
	}
	if conf >= adaptiveMin && momAgrees && trendAgrees && accShort >= 0.5 {
		return buy
	}
	if conf >= 0.50 && trendAgrees && trendStr >= 0.6 && f.Volatility <= 0.4 {
		return buy
	}
	return SignalHold
}

func agreesWith(v float64, dir Direction) bool {
	if dir == DirectionUp {
		return v > 0
	}
	return v < 0
}
