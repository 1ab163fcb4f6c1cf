package domain

// Market 一个 15 分钟 Up/Down 市场周期（window）的领域模型。
// 由 slug 唯一标识（btc-updown-15m-{periodStartUnix}），周期切换时创建新对象，不原地修改。
type Market struct {
	Name             string // 市场名（如 "btc"）
	Slug             string // 周期 slug
	ConditionID      string // 条件 ID（结算用）
	UpAssetID        string // UP token 资产 ID
	DownAssetID      string // DOWN token 资产 ID
	UpOutcomeIndex   int    // UP 结果索引
	DownOutcomeIndex int    // DOWN 结果索引
	Question         string // 问题描述
	Timestamp        int64  // 周期起点 Unix 时间戳（秒）
}

// IsValid 验证市场是否有效
func (m *Market) IsValid() bool {
	return m != nil && m.Slug != "" && m.UpAssetID != "" && m.DownAssetID != "" && m.Timestamp > 0
}

// AssetID 根据 token 类型获取资产 ID
func (m *Market) AssetID(tokenType TokenType) string {
	if tokenType == TokenTypeUp {
		return m.UpAssetID
	}
	return m.DownAssetID
}

// TokenOf 反查资产 ID 属于哪一侧；第二个返回值表示是否属于本市场。
func (m *Market) TokenOf(assetID string) (TokenType, bool) {
	if m == nil || assetID == "" {
		return "", false
	}
	switch assetID {
	case m.UpAssetID:
		return TokenTypeUp, true
	case m.DownAssetID:
		return TokenTypeDown, true
	}
	return "", false
}

// TokenType token 类型
type TokenType string

const (
	TokenTypeUp   TokenType = "up"
	TokenTypeDown TokenType = "down"
)

// Opposite 返回对侧 token 类型
func (t TokenType) Opposite() TokenType {
	if t == TokenTypeUp {
		return TokenTypeDown
	}
	return TokenTypeUp
}
