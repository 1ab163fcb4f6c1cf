package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/engine"
	"github.com/betbot/polebet/pkg/persistence"
)

type fakeSettlement struct {
	resolutions map[string]*domain.Resolution
}

func (f *fakeSettlement) Resolution(_ context.Context, conditionID string) (*domain.Resolution, error) {
	if r, ok := f.resolutions[conditionID]; ok {
		return r, nil
	}
	return &domain.Resolution{ConditionID: conditionID}, nil
}

func TestReconciler_SettledWindowsPruned(t *testing.T) {
	store := persistence.NewJSONFileService(t.TempDir()).NewStore("state", "btc", "windows")

	windows := map[string]*engine.PersistedWindow{
		// UP 获胜：持仓 10 股 up，成本 9.9 → pnl +0.1
		"btc-updown-15m-100": {
			ConditionID: "0xwin-up",
			UpIndex:     0, DownIndex: 1,
			UpShares: 10, DownShares: 10,
			Cost:        9.9,
			LastUpdated: time.Now(),
		},
		// 未结算：保留
		"btc-updown-15m-200": {
			ConditionID: "0xpending",
			LastUpdated: time.Now(),
		},
		// 缺 conditionId 的脏条目：剪除
		"btc-updown-15m-300": {LastUpdated: time.Now()},
	}
	require.NoError(t, store.Save(windows))

	settle := &fakeSettlement{resolutions: map[string]*domain.Resolution{
		"0xwin-up": {
			ConditionID:    "0xwin-up",
			Resolved:       true,
			WinningIndices: []int{0},
			PayoutRatio:    1.0,
		},
	}}

	r := NewReconciler(settle, store)
	require.NoError(t, r.Run(context.Background()))

	var after map[string]*engine.PersistedWindow
	require.NoError(t, store.Load(&after))
	assert.Len(t, after, 1)
	assert.Contains(t, after, "btc-updown-15m-200", "未结算的周期必须保留")
}

func TestReconciler_RetentionExpiry(t *testing.T) {
	store := persistence.NewJSONFileService(t.TempDir()).NewStore("state", "btc", "windows")
	require.NoError(t, store.Save(map[string]*engine.PersistedWindow{
		"btc-updown-15m-100": {
			ConditionID: "0xnever",
			LastUpdated: time.Now().Add(-72 * time.Hour),
		},
	}))

	r := NewReconciler(&fakeSettlement{}, store)
	require.NoError(t, r.Run(context.Background()))

	var after map[string]*engine.PersistedWindow
	require.NoError(t, store.Load(&after))
	assert.Empty(t, after, "超过保留期仍未结算的条目被放弃")
}

func TestReconciler_EmptyStoreNoop(t *testing.T) {
	store := persistence.NewJSONFileService(t.TempDir()).NewStore("state", "btc", "windows")
	r := NewReconciler(&fakeSettlement{}, store)
	assert.NoError(t, r.Run(context.Background()))
}
