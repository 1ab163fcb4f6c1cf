package recorder

import (
	"context"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/ports"
)

// Noop 空实现：未配置数据库路径时使用。
type Noop struct{}

var _ ports.TradeRecorder = Noop{}

func (Noop) RecordTrade(context.Context, *domain.RecordedTrade) error        { return nil }
func (Noop) RecordWindowSummary(context.Context, *domain.WindowSummary) error { return nil }
func (Noop) Close() error                                                     { return nil }
