package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, []string{"btc"}, cfg.Markets)
	assert.Equal(t, "15m", cfg.Timeframe)
	assert.Equal(t, "updown", cfg.Kind)
	assert.Equal(t, "https://clob.polymarket.com", cfg.Endpoints.ClobBaseURL)
	assert.Equal(t, 5.0, cfg.Trading.SharesPerSide)
	assert.Equal(t, 0.50, cfg.Trading.MinConfidence)
	assert.Equal(t, "json", cfg.Persistence.Backend)
	assert.Equal(t, 10*time.Second, cfg.TransitionCheckInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.PersistenceDebounce())
	assert.Equal(t, "0 0,15,30,45 * * * *", cfg.SummaryFlushCron)
}

func TestLoadFromFile_YAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
markets: ["btc", "eth"]
trading:
  shares_per_side: 10
  max_trades_per_side: 3
  dry_run: true
persistence:
  backend: badger
  dir: /tmp/state
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"btc", "eth"}, cfg.Markets)
	assert.Equal(t, 10.0, cfg.Trading.SharesPerSide)
	assert.Equal(t, 3, cfg.Trading.MaxTradesPerSide)
	assert.True(t, cfg.Trading.DryRun)
	assert.Equal(t, "badger", cfg.Persistence.Backend)
	// 未覆盖的字段仍走缺省
	assert.Equal(t, "15m", cfg.Timeframe)
	assert.Equal(t, 1, cfg.Trading.TickCents)
}

func TestLoadFromFile_EnvOverrides(t *testing.T) {
	t.Setenv("POLEBET_PROXY_URL", "http://127.0.0.1:7890")
	t.Setenv("POLEBET_LOG_LEVEL", "debug")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:7890", cfg.Endpoints.ProxyURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Defaults()
	assert.NoError(t, cfg.Validate())

	bad := &Config{}
	bad.Defaults()
	bad.Persistence.Backend = "redis"
	assert.Error(t, bad.Validate())

	bad2 := &Config{}
	bad2.Defaults()
	bad2.Trading.MinConfidence = 1.5
	assert.Error(t, bad2.Validate())

	bad3 := &Config{Markets: []string{"btc", " "}}
	bad3.Defaults()
	assert.Error(t, bad3.Validate())
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
