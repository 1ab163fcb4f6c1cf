package predictor

import "time"

// Direction 预测方向（永不中性：所有退化情况都会落到 up/down）
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Signal 交易信号
type Signal string

const (
	SignalBuyUp   Signal = "BUY_UP"
	SignalBuyDown Signal = "BUY_DOWN"
	SignalHold    Signal = "HOLD"
)

// PoleType 极值类型
type PoleType string

const (
	PolePeak   PoleType = "peak"
	PoleTrough PoleType = "trough"
)

// Pole 平滑价格序列中的局部极值（峰/谷），预测只在 pole 处触发
type Pole struct {
	Value float64
	Type  PoleType
	At    time.Time
}

// Features pole 处计算的特征，各自独立裁剪到有界区间
type Features struct {
	Momentum   float64 `json:"momentum"`   // 归一化变化速率 [-1,1]
	Volatility float64 `json:"volatility"` // 最近 5 点标准差归一化 [0,1]
	Trend      float64 `json:"trend"`      // 短/长 EMA 背离 + 动量 + 中期变化的加权混合 [-1,1]
}

// Prediction pole 触发的方向预测
type Prediction struct {
	Price      float64   `json:"price"`      // 预测价格（去归一化后）
	Confidence float64   `json:"confidence"` // [MinConfidence, MaxConfidence]
	Direction  Direction `json:"direction"`
	Signal     Signal    `json:"signal"`
	Features   Features  `json:"features"`
	BasePrice  float64   `json:"basePrice"` // 预测发出时的平滑价格（下次 pole 的评分基准）
	At         time.Time `json:"at"`
}
