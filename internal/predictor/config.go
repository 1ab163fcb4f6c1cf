package predictor

import "fmt"

// Config 在线预测器参数。
//
// 设计目标：
// - 参数尽量少，默认值即可跑（Defaults 兜底）
// - 噪声阈值/平滑系数/历史长度是行为的主要旋钮，其余为标定细节
type Config struct {
	// NoiseThreshold 噪声阈值（价格绝对变化），低于该值的原始更新被整体丢弃
	NoiseThreshold float64 `json:"noiseThreshold" yaml:"noiseThreshold"`

	// MinPrice/MaxPrice 有效价格带，带外视为已退化/已结算的盘口，不建模
	MinPrice float64 `json:"minPrice" yaml:"minPrice"`
	MaxPrice float64 `json:"maxPrice" yaml:"maxPrice"`

	// Smoothing 主 EMA 平滑系数（越大越跟随原始价格）
	Smoothing float64 `json:"smoothing" yaml:"smoothing"`
	// ShortSmoothing/LongSmoothing 用于 trend 特征的短/长 EMA
	ShortSmoothing float64 `json:"shortSmoothing" yaml:"shortSmoothing"`
	LongSmoothing  float64 `json:"longSmoothing" yaml:"longSmoothing"`

	// HistorySize 平滑价格环形缓冲上限
	HistorySize int `json:"historySize" yaml:"historySize"`
	// Lookback 极值判定回看点数
	Lookback int `json:"lookback" yaml:"lookback"`

	// MinConfidence/MaxConfidence 置信度硬边界
	MinConfidence float64 `json:"minConfidence" yaml:"minConfidence"`
	MaxConfidence float64 `json:"maxConfidence" yaml:"maxConfidence"`

	// AccuracyWindow 滚动正确率窗口（pole 级别）
	AccuracyWindow int `json:"accuracyWindow" yaml:"accuracyWindow"`
}

func (c *Config) Defaults() {
	if c == nil {
		return
	}
	if c.NoiseThreshold <= 0 {
		c.NoiseThreshold = 0.02
	}
	if c.MinPrice <= 0 {
		c.MinPrice = 0.003
	}
	if c.MaxPrice <= 0 {
		c.MaxPrice = 0.97
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = 0.65
	}
	if c.ShortSmoothing <= 0 || c.ShortSmoothing > 1 {
		c.ShortSmoothing = 0.5
	}
	if c.LongSmoothing <= 0 || c.LongSmoothing > 1 {
		c.LongSmoothing = 0.2
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 10
	}
	if c.Lookback <= 0 {
		c.Lookback = 2
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.40
	}
	if c.MaxConfidence <= 0 {
		c.MaxConfidence = 0.92
	}
	if c.AccuracyWindow <= 0 {
		c.AccuracyWindow = 20
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.NoiseThreshold <= 0 || c.NoiseThreshold >= 0.5 {
		return fmt.Errorf("noiseThreshold must be within (0,0.5)")
	}
	if c.MinPrice <= 0 || c.MaxPrice >= 1 || c.MinPrice >= c.MaxPrice {
		return fmt.Errorf("price band must satisfy 0 < minPrice < maxPrice < 1")
	}
	if c.HistorySize < 3 {
		return fmt.Errorf("historySize must be >= 3")
	}
	if c.Lookback < 1 || c.Lookback >= c.HistorySize {
		return fmt.Errorf("lookback must be within [1, historySize)")
	}
	if c.MinConfidence >= c.MaxConfidence {
		return fmt.Errorf("minConfidence must be < maxConfidence")
	}
	return nil
}
