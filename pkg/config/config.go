package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	ByCycle    bool   `yaml:"by_cycle" json:"by_cycle"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// EndpointsConfig 上游端点配置
type EndpointsConfig struct {
	ClobBaseURL  string `yaml:"clob_base_url" json:"clob_base_url"`
	GammaBaseURL string `yaml:"gamma_base_url" json:"gamma_base_url"`
	MarketWSURL  string `yaml:"market_ws_url" json:"market_ws_url"`
	ProxyURL     string `yaml:"proxy_url" json:"proxy_url"`
}

// TradingConfig 交易配置
type TradingConfig struct {
	SharesPerSide    float64 `yaml:"shares_per_side" json:"shares_per_side"`
	MaxTradesPerSide int     `yaml:"max_trades_per_side" json:"max_trades_per_side"` // 0 = 不限制
	MinConfidence    float64 `yaml:"min_confidence" json:"min_confidence"`
	TickCents        int     `yaml:"tick_cents" json:"tick_cents"`
	WarmupMs         int     `yaml:"warmup_ms" json:"warmup_ms"`
	DryRun           bool    `yaml:"dry_run" json:"dry_run"`
}

// PersistenceConfig 持久化配置
type PersistenceConfig struct {
	Backend string `yaml:"backend" json:"backend"` // json | badger
	Dir     string `yaml:"dir" json:"dir"`
	// 防抖写入间隔（毫秒）：允许 crash 时丢最后几百毫秒的写入
	DebounceMs int `yaml:"debounce_ms" json:"debounce_ms"`
}

// RecorderConfig 交易记录器配置
type RecorderConfig struct {
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"` // 为空则使用 noop recorder
}

// Config 应用配置
type Config struct {
	Markets   []string `yaml:"markets" json:"markets"` // 市场 symbol 列表，如 ["btc"]
	Timeframe string   `yaml:"timeframe" json:"timeframe"`
	Kind      string   `yaml:"kind" json:"kind"`

	Log         LogConfig         `yaml:"log" json:"log"`
	Endpoints   EndpointsConfig   `yaml:"endpoints" json:"endpoints"`
	Trading     TradingConfig     `yaml:"trading" json:"trading"`
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence"`
	Recorder    RecorderConfig    `yaml:"recorder" json:"recorder"`

	// 周期切换检查间隔（秒），独立于价格流，静默期也能发现周期切换
	TransitionCheckSeconds int `yaml:"transition_check_seconds" json:"transition_check_seconds"`
	// 周期汇总 flush 的 cron 表达式（带秒字段），默认对齐到整刻钟
	SummaryFlushCron string `yaml:"summary_flush_cron" json:"summary_flush_cron"`
}

// Defaults 填充缺省值
func (c *Config) Defaults() {
	if len(c.Markets) == 0 {
		c.Markets = []string{"btc"}
	}
	if c.Timeframe == "" {
		c.Timeframe = "15m"
	}
	if c.Kind == "" {
		c.Kind = "updown"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 7
	}
	if c.Endpoints.ClobBaseURL == "" {
		c.Endpoints.ClobBaseURL = "https://clob.polymarket.com"
	}
	if c.Endpoints.GammaBaseURL == "" {
		c.Endpoints.GammaBaseURL = "https://gamma-api.polymarket.com"
	}
	if c.Endpoints.MarketWSURL == "" {
		c.Endpoints.MarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if c.Trading.SharesPerSide <= 0 {
		c.Trading.SharesPerSide = 5
	}
	if c.Trading.MaxTradesPerSide < 0 {
		c.Trading.MaxTradesPerSide = 0
	}
	if c.Trading.MinConfidence <= 0 {
		c.Trading.MinConfidence = 0.50
	}
	if c.Trading.TickCents <= 0 {
		c.Trading.TickCents = 1
	}
	if c.Trading.WarmupMs < 0 {
		c.Trading.WarmupMs = 0
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "json"
	}
	if c.Persistence.Dir == "" {
		c.Persistence.Dir = "data/state"
	}
	if c.Persistence.DebounceMs <= 0 {
		c.Persistence.DebounceMs = 500
	}
	if c.TransitionCheckSeconds <= 0 {
		c.TransitionCheckSeconds = 10
	}
	if c.SummaryFlushCron == "" {
		// 对齐到整刻钟（0/15/30/45 分）
		c.SummaryFlushCron = "0 0,15,30,45 * * * *"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config 不能为空")
	}
	for _, m := range c.Markets {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("markets 包含空 symbol")
		}
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 1 {
		return fmt.Errorf("trading.min_confidence 必须在 [0,1] 内")
	}
	switch c.Persistence.Backend {
	case "json", "badger":
	default:
		return fmt.Errorf("persistence.backend 仅支持 json/badger，收到 %q", c.Persistence.Backend)
	}
	return nil
}

// LoadFromFile 从 YAML/JSON 文件加载配置（yaml.v3 同时兼容 JSON）
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	// 环境变量覆盖（部署时常用）
	if v := os.Getenv("POLEBET_PROXY_URL"); v != "" {
		cfg.Endpoints.ProxyURL = v
	}
	if v := os.Getenv("POLEBET_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TransitionCheckInterval 周期切换检查间隔
func (c *Config) TransitionCheckInterval() time.Duration {
	return time.Duration(c.TransitionCheckSeconds) * time.Second
}

// PersistenceDebounce 持久化防抖间隔
func (c *Config) PersistenceDebounce() time.Duration {
	return time.Duration(c.Persistence.DebounceMs) * time.Millisecond
}
