package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/polebet/internal/domain"
)

func TestSQLiteRecorder_RoundTrip(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "polebet.db"))
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.RecordTrade(ctx, &domain.RecordedTrade{
		MarketSlug:         "btc-updown-15m-1700000100",
		TokenType:          domain.TokenTypeUp,
		Side:               domain.SideBuy,
		Price:              0.57,
		Size:               5,
		Cost:               2.85,
		PredictedDirection: "up",
		Confidence:         0.71,
		At:                 now,
	}))

	summary := &domain.WindowSummary{
		MarketSlug:         "btc-updown-15m-1700000100",
		StartTime:          now,
		EndTime:            now.Add(15 * time.Minute),
		TotalPredictions:   4,
		CorrectPredictions: 3,
		UpCount:            2,
		DownCount:          2,
		UpCost:             5.70,
		DownCost:           4.10,
		TotalCost:          9.80,
	}
	require.NoError(t, r.RecordWindowSummary(ctx, summary))
	// 重复冻结走 UPSERT，不报错
	summary.CorrectPredictions = 4
	require.NoError(t, r.RecordWindowSummary(ctx, summary))

	var count int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&count))
	assert.Equal(t, 1, count)

	var correct int
	require.NoError(t, r.db.QueryRow(
		`SELECT correct_predictions FROM window_summaries WHERE market_slug = ?`,
		"btc-updown-15m-1700000100").Scan(&correct))
	assert.Equal(t, 4, correct)
}

func TestRecordNilIgnored(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "polebet.db"))
	require.NoError(t, err)
	defer r.Close()

	assert.NoError(t, r.RecordTrade(context.Background(), nil))
	assert.NoError(t, r.RecordWindowSummary(context.Background(), nil))
}
