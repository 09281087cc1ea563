package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"intraday-trader/internal/api"
	"intraday-trader/internal/cache"
	"intraday-trader/internal/engine"
	"intraday-trader/internal/events"
	"intraday-trader/internal/executor"
	"intraday-trader/internal/metrics"
	"intraday-trader/internal/model"
	"intraday-trader/internal/position"
	"intraday-trader/internal/server"
	"intraday-trader/internal/service"
	"intraday-trader/internal/strategy"
	"intraday-trader/pkg/ta"
)

func main() {
	configPath := "config"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatal("Configuration directory 'config/' not found. Please create it.")
	}
	cfg, err := service.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	service.InitLogger(cfg.Log.Level)
	defer service.Logger.Sync()
	logger := service.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting intraday trader",
		zap.String("Mode", cfg.Mode),
		zap.Strings("Universe", cfg.Universe),
		zap.String("Feed", cfg.Alpaca.Feed),
	)

	// 1. 缓存: Redis 或进程内
	var barCache cache.Service
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			logger.Fatal("Redis unavailable", zap.Error(err))
		}
		barCache = rc
	} else {
		barCache = cache.NewMemoryCache(4*len(cfg.Universe)+16, time.Minute)
	}
	defer barCache.Close()

	// 2. 行情: Alpaca + 缓存 + 限流
	connector := api.NewAlpacaConnector(api.AlpacaConfig{
		APIKey:    cfg.Alpaca.APIKey,
		SecretKey: cfg.Alpaca.SecretKey,
		Feed:      cfg.Alpaca.Feed,
		Timeout:   cfg.Data.RequestTimeout,
	}, logger.Named("alpaca"))
	provider := api.NewCachedProvider(connector, barCache, cfg.Data.CacheTTL,
		cfg.Data.RequestsPerSecond, cfg.Data.Burst, logger.Named("provider"))

	// 3. 执行器: 纸面或实盘
	var exec executor.Executor
	if cfg.Mode == "live" {
		exec = executor.NewAlpacaExecutor(executor.AlpacaConfig{
			APIKey:    cfg.Alpaca.APIKey,
			SecretKey: cfg.Alpaca.SecretKey,
			BaseURL:   cfg.Alpaca.BaseURL,
		}, logger.Named("executor"))
	} else {
		exec = executor.NewSimulatorExecutor(executor.SimulatorConfig{
			InitialCapital: cfg.Simulator.InitialCapital,
		}, logger.Named("executor"))
	}

	// 4. 事件下游
	recorder := metrics.New(prometheus.DefaultRegisterer)
	hub := events.NewHub(logger.Named("ws"))
	sinks := []events.Sink{events.NewLogSink(logger.Named("events")), hub}

	if cfg.Kafka.Enabled {
		ks, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal("Kafka sink", zap.Error(err))
		}
		defer ks.Close()
		sinks = append(sinks, ks)
	}
	if cfg.Postgres.Enabled {
		pool, err := events.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			logger.Fatal("Postgres unavailable", zap.Error(err))
		}
		defer pool.Close()
		journal := events.NewJournalSink(pool)
		if err := journal.Migrate(ctx); err != nil {
			logger.Fatal("Journal migration failed", zap.Error(err))
		}
		sinks = append(sinks, journal)
	}

	dispatcher := events.NewDispatcher(cfg.Engine.EventBuffer, logger.Named("dispatcher"), sinks...)
	dispatcher.OnSinkError(recorder.RecordSinkError)
	dispatcher.Start()

	// 5. 核心: 波动状态、指标、打分、持仓
	classifier := strategy.NewRegimeClassifier(cfg.Regime, cfg.Data, provider, logger.Named("regime"))
	recorder.SetRegime(classifier.Current().Level.Ordinal())
	classifier.OnPublish(func(r model.VolatilityRegime) {
		recorder.SetRegime(r.Level.Ordinal())
		dispatcher.Emit(model.EventRegime, "", r)
	})

	manager := position.NewManager(cfg.Risk, cfg.Data.MaxQuoteAge, position.NewLedger(), logger.Named("position"))

	eng, err := engine.New(cfg, engine.Deps{
		Provider:   provider,
		Regime:     classifier,
		Calculator: ta.NewTACalculator(taParams(cfg.Indicators), logger.Named("ta")),
		Scorer:     strategy.NewSignalGenerator(cfg.Scoring, logger.Named("scorer")),
		Manager:    manager,
		Executor:   exec,
		Events:     dispatcher,
		Metrics:    recorder,
	}, logger.Named("engine"))
	if err != nil {
		logger.Fatal("Engine init failed", zap.Error(err))
	}

	// 6. HTTP
	srv := server.New(cfg.Server.Addr, server.Deps{
		Status:    eng.Health(),
		Positions: manager,
		Regime:    classifier,
		Metrics:   promhttp.Handler(),
		WS:        hub.ServeWS,
	}, logger.Named("http"))
	srv.Start()

	go classifier.Run(ctx, cfg.Universe, cfg.Regime.RefreshInterval)

	// 阻塞直到收到退出信号，当前周期完成后返回
	eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	dispatcher.Close()
	hub.Close()

	summary := manager.Ledger().Summary()
	logger.Info("Shutdown complete",
		zap.Int("OpenPositions", manager.Count()),
		zap.Int("Trades", summary.Trades),
		zap.Float64("RealizedPnL", summary.RealizedPnL),
		zap.Uint64("DroppedEvents", dispatcher.Dropped()),
	)
}

func taParams(c service.IndicatorConfig) ta.Params {
	return ta.Params{
		RSIPeriod:      c.RSIPeriod,
		MACDFast:       c.MACDFast,
		MACDSlow:       c.MACDSlow,
		MACDSignal:     c.MACDSignal,
		BollingerLen:   c.BollingerLen,
		BollingerWidth: c.BollingerWidth,
		VolumeWindow:   c.VolumeWindow,
		RollingWindow:  c.RollingWindow,
	}
}
