package predictor

// ModelWeights 线性回归系数：截距 + 3 个滞后价格项 + 动量 + 波动 + 趋势。
//
// 归属：每个 Predictor 实例独占一份。周期切换时 Reset() 不清空权重 ——
// 权重是跨周期可迁移的学习状态，历史缓冲/平滑状态/pole 记录才是周期内状态。
type ModelWeights struct {
	Intercept  float64 `json:"intercept"`
	Lag1       float64 `json:"lag1"`
	Lag2       float64 `json:"lag2"`
	Lag3       float64 `json:"lag3"`
	Momentum   float64 `json:"momentum"`
	Volatility float64 `json:"volatility"`
	Trend      float64 `json:"trend"`
}

func defaultWeights() ModelWeights {
	return ModelWeights{
		Intercept:  0,
		Lag1:       0.60,
		Lag2:       0.25,
		Lag3:       0.10,
		Momentum:   0.05,
		Volatility: -0.02,
		Trend:      0.05,
	}
}

// modelInputs 一次预测的输入（滞后项为 z 标准化值）。
// 预测时完整保存，学习步直接复用，不做近似重算。
type modelInputs struct {
	lag1, lag2, lag3 float64
	features         Features
	mean, std        float64 // 预测时的去归一化统计量
}

// predictNorm 归一化空间内的加权和
func (w ModelWeights) predictNorm(in modelInputs) float64 {
	return w.Intercept +
		w.Lag1*in.lag1 +
		w.Lag2*in.lag2 +
		w.Lag3*in.lag3 +
		w.Momentum*in.features.Momentum +
		w.Volatility*in.features.Volatility +
		w.Trend*in.features.Trend
}

// learn 在线梯度更新：weight = weight*decay + lr*err*feature。
//
// decay 与 lr 都在上次预测方向错误时放大（更快忘掉坏权重），
// 方向正确时收缩（更保守地微调）。err 为归一化空间的带符号误差。
func (w *ModelWeights) learn(prev modelInputs, err float64, wasWrong bool) {
	decay, lr := 0.995, 0.02
	if wasWrong {
		decay, lr = 0.96, 0.05
	}

	w.Intercept = w.Intercept*decay + lr*err
	w.Lag1 = w.Lag1*decay + lr*err*prev.lag1
	w.Lag2 = w.Lag2*decay + lr*err*prev.lag2
	w.Lag3 = w.Lag3*decay + lr*err*prev.lag3
	w.Momentum = w.Momentum*decay + lr*err*prev.features.Momentum
	w.Volatility = w.Volatility*decay + lr*err*prev.features.Volatility
	w.Trend = w.Trend*decay + lr*err*prev.features.Trend
}
