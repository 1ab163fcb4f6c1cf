package predictor

import "math"

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sign(v float64) float64 {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}

// momentumOf 归一化变化速率：最近一步的价格变化，以 2.5 倍噪声阈值为满刻度。
func momentumOf(history []float64, noise float64) float64 {
	n := len(history)
	if n < 2 {
		return 0
	}
	return clip((history[n-1]-history[n-2])/(2.5*noise), -1, 1)
}

// volatilityOf 最近 5 点的标准差；norm 以 0.05 为满刻度裁剪到 [0,1]。
func volatilityOf(history []float64) (raw, norm float64) {
	n := len(history)
	if n < 2 {
		return 0, 0
	}
	k := 5
	if n < k {
		k = n
	}
	window := history[n-k:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(k)

	var ss float64
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	raw = math.Sqrt(ss / float64(k))
	return raw, clip(raw/0.05, 0, 1)
}

// trendOf 趋势特征：短/长 EMA 背离（50%）+ 缩放动量（30%）+ 中期价格变化（20%）。
func trendOf(emaShort, emaLong, momentum float64, history []float64) float64 {
	div := clip((emaShort-emaLong)/0.05, -1, 1)

	var mid float64
	n := len(history)
	if n >= 6 {
		mid = clip((history[n-1]-history[n-6])/0.10, -1, 1)
	} else if n >= 3 {
		mid = clip((history[n-1]-history[0])/0.10, -1, 1)
	}

	return clip(0.5*div+0.3*momentum+0.2*mid, -1, 1)
}

// meanStd 历史缓冲的均值/标准差（std 有下限，避免除零）。
func meanStd(history []float64) (mean, std float64) {
	n := len(history)
	if n == 0 {
		return 0, 1e-6
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	mean = sum / float64(n)

	var ss float64
	for _, v := range history {
		d := v - mean
		ss += d * d
	}
	std = math.Sqrt(ss / float64(n))
	if std < 1e-6 {
		std = 1e-6
	}
	return mean, std
}
