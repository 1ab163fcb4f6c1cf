package services

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/engine"
	"github.com/betbot/polebet/internal/ports"
	"github.com/betbot/polebet/pkg/persistence"
)

// SettlementClient 查询 condition 的结算结果（CLOB 市场视图里的 winner 标记）。
type SettlementClient struct {
	http *resty.Client
}

var _ ports.SettlementService = (*SettlementClient)(nil)

func NewSettlementClient(clobBaseURL string) *SettlementClient {
	return &SettlementClient{http: newRestyClient(clobBaseURL)}
}

func (c *SettlementClient) Resolution(ctx context.Context, conditionID string) (*domain.Resolution, error) {
	var cm clobMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&cm).
		Get("/markets/" + conditionID)
	if err != nil {
		return nil, errors.Wrapf(err, "查询结算失败: conditionId=%s", conditionID)
	}
	if resp.IsError() {
		return nil, errors.Errorf("结算查询返回 %d: conditionId=%s", resp.StatusCode(), conditionID)
	}

	res := &domain.Resolution{ConditionID: conditionID, PayoutRatio: 1.0}
	for i, tok := range cm.Tokens {
		if tok.Winner {
			res.WinningIndices = append(res.WinningIndices, i)
		}
	}
	res.Resolved = cm.Closed && len(res.WinningIndices) > 0
	if res.Resolved {
		res.ResolvedAt = time.Now()
	}
	return res, nil
}

// Reconciler 启动时对账：把持久化簿记里已结算的周期算出已实现盈亏，
// 输出日志后从簿记中剪除。未结算/查询失败的条目原样保留，下次启动再试。
type Reconciler struct {
	settlement ports.SettlementService
	store      persistence.Store
	log        *logrus.Entry

	// Retention: 超过该时长仍查不到结算的条目被放弃（默认 48h）
	Retention time.Duration
}

func NewReconciler(settlement ports.SettlementService, store persistence.Store) *Reconciler {
	return &Reconciler{
		settlement: settlement,
		store:      store,
		log:        logrus.WithField("service", "reconcile"),
		Retention:  48 * time.Hour,
	}
}

// Run 单次对账。簿记为空或不存在时直接返回。
func (r *Reconciler) Run(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	var windows map[string]*engine.PersistedWindow
	if err := r.store.Load(&windows); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return nil
		}
		return errors.Wrap(err, "加载持久化簿记失败")
	}
	if len(windows) == 0 {
		return nil
	}

	changed := false
	var totalPnL float64
	for slug, w := range windows {
		if w == nil || w.ConditionID == "" {
			delete(windows, slug)
			changed = true
			continue
		}

		res, err := r.settlement.Resolution(ctx, w.ConditionID)
		if err != nil {
			r.log.Debugf("🔄 结算查询失败，保留待下次对账: slug=%s err=%v", slug, err)
			continue
		}
		if !res.Resolved {
			if r.Retention > 0 && time.Since(w.LastUpdated) > r.Retention {
				r.log.Warnf("⚠️ 周期超过保留期仍未结算，放弃对账: slug=%s", slug)
				delete(windows, slug)
				changed = true
			}
			continue
		}

		winShares := 0.0
		winSide := "none"
		if res.WonIndex(w.UpIndex) {
			winShares = w.UpShares
			winSide = "up"
		} else if res.WonIndex(w.DownIndex) {
			winShares = w.DownShares
			winSide = "down"
		}
		payout := winShares * res.PayoutRatio
		pnl := payout - w.Cost
		totalPnL += pnl

		r.log.Infof("💰 周期已结算: slug=%s winner=%s payout=%.2f cost=%.2f pnl=%+.2f",
			slug, winSide, payout, w.Cost, pnl)
		delete(windows, slug)
		changed = true
	}

	if changed {
		if err := r.store.Save(windows); err != nil {
			return errors.Wrap(err, "保存对账后的簿记失败")
		}
	}
	if totalPnL != 0 {
		r.log.Infof("💰 本次对账已实现盈亏合计: %+.2f", totalPnL)
	}
	return nil
}
