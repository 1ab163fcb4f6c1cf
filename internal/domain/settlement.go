package domain

import "time"

// Resolution 一个 condition 的链下结算视图
type Resolution struct {
	ConditionID     string
	Resolved        bool
	WinningIndices  []int   // 获胜 outcome 的索引（通常恰好一个）
	PayoutRatio     float64 // 每股获胜 token 的兑付比例（通常 1.0）
	ResolvedAt      time.Time
}

// WonIndex 判断给定 outcome 索引是否获胜
func (r *Resolution) WonIndex(idx int) bool {
	if r == nil || !r.Resolved {
		return false
	}
	for _, w := range r.WinningIndices {
		if w == idx {
			return true
		}
	}
	return false
}

// RecordedTrade 落库用的成交记录（recorder 口径，与引擎内部 TradeRecord 解耦）
type RecordedTrade struct {
	MarketSlug         string
	TokenType          TokenType
	Side               Side
	Price              float64
	Size               float64
	Cost               float64
	PredictedDirection string
	Confidence         float64
	At                 time.Time
}

// WindowSummary 落库用的周期汇总
type WindowSummary struct {
	MarketSlug         string
	StartTime          time.Time
	EndTime            time.Time
	TotalPredictions   int
	CorrectPredictions int
	UpCount            int
	DownCount          int
	UpCost             float64
	DownCost           float64
	TotalCost          float64
}
