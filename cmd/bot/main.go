package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/engine"
	"github.com/betbot/polebet/internal/events"
	"github.com/betbot/polebet/internal/metrics"
	"github.com/betbot/polebet/internal/ports"
	"github.com/betbot/polebet/internal/recorder"
	"github.com/betbot/polebet/internal/services"
	"github.com/betbot/polebet/pkg/config"
	"github.com/betbot/polebet/pkg/feed"
	"github.com/betbot/polebet/pkg/logger"
	"github.com/betbot/polebet/pkg/marketspec"
	"github.com/betbot/polebet/pkg/persistence"
	"github.com/betbot/polebet/pkg/shutdown"
)

// assetRouter 把 feed 推送的 asset id 路由到对应市场的引擎。
// 周期切换时由 OnWindowChanged 回调换绑。
type assetRouter struct {
	mu      sync.RWMutex
	byAsset map[string]*engine.Engine
}

func newAssetRouter() *assetRouter {
	return &assetRouter{byAsset: make(map[string]*engine.Engine)}
}

func (r *assetRouter) rebind(oldIDs, newIDs []string, eng *engine.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range oldIDs {
		delete(r.byAsset, id)
	}
	for _, id := range newIDs {
		if id != "" {
			r.byAsset[id] = eng
		}
	}
}

func (r *assetRouter) lookup(assetID string) *engine.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAsset[assetID]
}

func main() {
	configPath := flag.String("config", "config.yml", "配置文件路径")
	flag.Parse()

	// .env 不存在时静默跳过
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:         cfg.Log.Level,
		OutputFile:    cfg.Log.File,
		MaxSize:       cfg.Log.MaxSizeMB,
		MaxBackups:    cfg.Log.MaxBackups,
		MaxAge:        cfg.Log.MaxAgeDays,
		Compress:      cfg.Log.Compress,
		LogByCycle:    cfg.Log.ByCycle,
		CycleDuration: 15 * time.Minute,
	}); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}
	if cfg.Log.ByCycle {
		logger.StartRotationChecker()
	}

	logrus.Info("🚀 启动 polebet...")

	// resty / gamma 请求走环境变量代理
	if cfg.Endpoints.ProxyURL != "" {
		os.Setenv("HTTP_PROXY", cfg.Endpoints.ProxyURL)
		os.Setenv("HTTPS_PROXY", cfg.Endpoints.ProxyURL)
		logrus.Infof("已设置 HTTP 代理: %s", cfg.Endpoints.ProxyURL)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 可选 metrics/pprof（默认关闭）
	if addr := os.Getenv("POLEBET_METRICS_ADDR"); addr != "" {
		if _, err := metrics.StartAsync(rootCtx, addr); err != nil {
			logrus.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			logrus.Infof("📊 metrics/pprof 启用: listen=%s", addr)
		}
	}

	mgr := shutdown.NewManager()

	// 持久化后端
	var persistSvc persistence.Service
	switch cfg.Persistence.Backend {
	case "badger":
		badgerSvc, err := persistence.OpenBadger(cfg.Persistence.Dir)
		if err != nil {
			logrus.Errorf("打开 badger 存储失败: %v", err)
			os.Exit(1)
		}
		persistSvc = badgerSvc
		mgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
			if err := badgerSvc.Close(); err != nil {
				logrus.Warnf("关闭 badger 失败: %v", err)
			}
		})
		logrus.Infof("✅ 持久化后端: badger dir=%s", cfg.Persistence.Dir)
	default:
		persistSvc = persistence.NewJSONFileService(cfg.Persistence.Dir)
		logrus.Infof("✅ 持久化后端: json dir=%s", cfg.Persistence.Dir)
	}

	// 成交记录器
	var rec ports.TradeRecorder = recorder.Noop{}
	if cfg.Recorder.SQLitePath != "" {
		sqliteRec, err := recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath)
		if err != nil {
			logrus.Errorf("打开 sqlite recorder 失败: %v", err)
			os.Exit(1)
		}
		rec = sqliteRec
		mgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
			if err := sqliteRec.Close(); err != nil {
				logrus.Warnf("关闭 recorder 失败: %v", err)
			}
		})
	}

	// 上游服务
	listing := services.NewListingClient(cfg.Endpoints.GammaBaseURL, cfg.Endpoints.ClobBaseURL)
	settlement := services.NewSettlementClient(cfg.Endpoints.ClobBaseURL)
	var orders ports.OrderService
	if !cfg.Trading.DryRun {
		orders = services.NewOrderClient(cfg.Endpoints.ClobBaseURL)
	} else {
		logrus.Warn("📝 纸交易模式已启用：订单仅记录在日志中，不会提交上游")
	}

	// 行情 feed（所有市场共用一条连接）
	router := newAssetRouter()
	feedCfg := feed.DefaultConfig(cfg.Endpoints.MarketWSURL)
	feedCfg.ProxyURL = cfg.Endpoints.ProxyURL
	feedClient := feed.NewClient(feedCfg, func(assetID string, bid, ask float64, at time.Time) {
		eng := router.lookup(assetID)
		if eng == nil {
			return
		}
		market := eng.CurrentMarket()
		if market == nil {
			return
		}
		token, ok := market.TokenOf(assetID)
		if !ok {
			return
		}
		_ = eng.OnPriceChanged(rootCtx, &events.PriceChangedEvent{
			Market:    market,
			TokenType: token,
			BestBid:   domain.PriceFromDecimal(bid),
			BestAsk:   domain.PriceFromDecimal(ask),
			Timestamp: at,
		})
	})
	if err := feedClient.Start(); err != nil {
		logrus.Errorf("启动行情 feed 失败: %v", err)
		os.Exit(1)
	}
	mgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
		feedClient.Stop()
	})

	singleMarket := len(cfg.Markets) == 1

	var engines []*engine.Engine
	for _, symbol := range cfg.Markets {
		spec, err := marketspec.New(symbol, cfg.Timeframe, cfg.Kind)
		if err != nil {
			logrus.Errorf("无效的市场配置: symbol=%s err=%v", symbol, err)
			os.Exit(1)
		}

		store := persistSvc.NewStore("polebet", symbol, "windows")

		// 启动前先对账一次：结算已出结果的历史周期、清理过期条目
		reconciler := services.NewReconciler(settlement, store)
		if err := reconciler.Run(rootCtx); err != nil {
			logrus.Warnf("⚠️ 启动对账失败（继续启动）: market=%s err=%v", symbol, err)
		}

		eng, err := engine.New(engine.Options{
			Spec:           spec,
			Listing:        listing,
			Orders:         orders,
			Recorder:       rec,
			Store:          store,
			SharesPerSide:  cfg.Trading.SharesPerSide,
			MaxPerSide:     cfg.Trading.MaxTradesPerSide,
			MinConfidence:  cfg.Trading.MinConfidence,
			TickCents:      cfg.Trading.TickCents,
			Warmup:         time.Duration(cfg.Trading.WarmupMs) * time.Millisecond,
			DryRun:         cfg.Trading.DryRun,
			SaveDebounce:   cfg.PersistenceDebounce(),
			TransitionTick: cfg.TransitionCheckInterval(),
		})
		if err != nil {
			logrus.Errorf("创建引擎失败: market=%s err=%v", symbol, err)
			os.Exit(1)
		}

		// 周期切换：换绑路由、重订阅新周期的 token，日志文件跟随周期
		var prevUp, prevDown string
		eng.OnWindowChanged(func(m *domain.Market) {
			oldIDs := []string{prevUp, prevDown}
			newIDs := []string{m.UpAssetID, m.DownAssetID}
			router.rebind(oldIDs, newIDs, eng)
			feedClient.SwitchTo(oldIDs, newIDs)
			prevUp, prevDown = m.UpAssetID, m.DownAssetID
			if singleMarket {
				logger.SetMarketInfo(m.Slug, m.Timestamp)
			}
		})

		if err := eng.Start(rootCtx); err != nil {
			logrus.Errorf("启动引擎失败: market=%s err=%v", symbol, err)
			os.Exit(1)
		}
		engines = append(engines, eng)
		mgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
			eng.Stop()
		})
	}

	// 整刻钟的周期汇总 flush：价格流静默时也保证评分及时冻结
	cronRunner := cron.New(cron.WithSeconds())
	if _, err := cronRunner.AddFunc(cfg.SummaryFlushCron, func() {
		now := time.Now()
		for _, eng := range engines {
			if err := eng.CheckTransition(rootCtx, now); err != nil {
				logrus.Debugf("⏭️ 定时周期检查: err=%v", err)
			}
		}
	}); err != nil {
		logrus.Errorf("无效的 cron 表达式 %q: %v", cfg.SummaryFlushCron, err)
		os.Exit(1)
	}
	cronRunner.Start()
	mgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
		<-cronRunner.Stop().Done()
	})

	logrus.Infof("✅ polebet 已启动: markets=%v dryRun=%v，按 Ctrl+C 停止", cfg.Markets, cfg.Trading.DryRun)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logrus.Info("收到停止信号，正在关闭...")

	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)

	logrus.Info("✅ polebet 已停止")
}
