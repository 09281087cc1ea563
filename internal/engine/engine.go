package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"intraday-trader/internal/api"
	"intraday-trader/internal/executor"
	"intraday-trader/internal/metrics"
	"intraday-trader/internal/model"
	"intraday-trader/internal/position"
	"intraday-trader/internal/service"
	"intraday-trader/internal/strategy"
	"intraday-trader/pkg/ta"
)

// RegimeSource 当前波动状态 (读者不阻塞)
type RegimeSource interface {
	Current() model.VolatilityRegime
}

// Emitter 非阻塞事件投递
type Emitter interface {
	Emit(kind model.EventKind, symbol string, payload any) bool
}

// marker 纸面执行器用最新报价更新估值
type marker interface {
	Mark(quotes map[string]model.Quote)
}

// Deps 引擎依赖，全部由 main 组装
type Deps struct {
	Provider   api.BarProvider
	Regime     RegimeSource
	Calculator *ta.TACalculator
	Scorer     *strategy.SignalGenerator
	Manager    *position.Manager
	Executor   executor.Executor
	Events     Emitter
	Metrics    *metrics.Recorder
}

// Engine 固定周期的扫描循环
// 每个周期: 对账 → 平仓检查 → 并发扫描可选标的 → 按置信度开仓 → 周期汇总
type Engine struct {
	Deps
	universe []string
	data     service.DataConfig
	cfg      service.EngineConfig
	hours    *marketHours
	logger   *zap.Logger
	health   *Health
	cycles   atomic.Uint64
	now      func() time.Time
}

func New(cfg *service.Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		Deps:     deps,
		universe: append([]string(nil), cfg.Universe...),
		data:     cfg.Data,
		cfg:      cfg.Engine,
		logger:   logger,
		health:   NewHealth(cfg.Engine.UnhealthyAfter),
		now:      time.Now,
	}
	if cfg.MarketHours.Enabled {
		hours, err := newMarketHours(cfg.MarketHours)
		if err != nil {
			return nil, err
		}
		e.hours = hours
	}
	return e, nil
}

// Health 供 /healthz 使用
func (e *Engine) Health() *Health {
	return e.health
}

// Run 第一个周期立即执行，之后按 CycleInterval 触发
// ctx 取消后当前周期照常完成 (在途请求受 RequestTimeout 约束)，不再开始新周期，持仓不强平
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Engine started",
		zap.Int("Universe", len(e.universe)),
		zap.Duration("Interval", e.cfg.CycleInterval),
	)
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		e.RunCycle(context.WithoutCancel(ctx))
		// 周期超过间隔时 Done 与 ticker 可能同时就绪，select 随机选择，需再检查一次
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			e.logger.Info("Engine stopped", zap.Uint64("Cycles", e.cycles.Load()))
			return
		}
	}
}

// RunCycle 执行一个完整周期，单个标的的数据错误只计数，不会中断周期
func (e *Engine) RunCycle(ctx context.Context) model.CycleSummary {
	start := e.now()
	regime := e.Regime.Current()
	summary := model.CycleSummary{
		Cycle:     e.cycles.Add(1),
		StartedAt: start,
		Regime:    regime.Level,
	}

	if e.hours != nil && !e.hours.IsOpen(start) {
		summary.Skipped = true
		summary.OpenPositions = e.Manager.Count()
		e.logger.Debug("Market closed, cycle skipped", zap.Uint64("Cycle", summary.Cycle))
		e.finish(summary, 0)
		return summary
	}

	if e.cfg.Reconcile {
		e.reconcile(ctx, regime)
	}

	attempts := 0

	// --- 1. 平仓检查 ---
	open := e.Manager.Positions()
	if len(open) > 0 {
		symbols := make([]string, len(open))
		for i, p := range open {
			symbols[i] = p.Symbol
		}
		quotes, failed := e.fetchQuotes(ctx, symbols)
		attempts += len(symbols)
		summary.FetchErrors += failed

		if m, ok := e.Executor.(marker); ok {
			m.Mark(quotes)
		}

		exits := e.Manager.EvaluateExits(quotes, regime, e.now())
		summary.Deferred = len(exits.Deferred)
		for i, trade := range exits.Closed {
			e.submit(ctx, exits.Intents[i])
			e.Events.Emit(model.EventPositionClosed, trade.Symbol, trade)
			e.Metrics.RecordClose(string(trade.ExitReason))
			summary.Closed++
		}
	}

	// --- 2. 扫描可选标的 ---
	eligible := e.Manager.Eligible(e.universe, e.now())
	signals, failed := e.scan(ctx, eligible, regime)
	attempts += len(eligible)
	summary.Scanned = len(eligible)
	summary.FetchErrors += failed
	summary.Signals = len(signals)

	// --- 3. 开仓 (串行，置信度高的优先占用仓位) ---
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Confidence > signals[j].Confidence
	})
	for _, sig := range signals {
		e.logger.Info("!!! NEW TRADING SIGNAL !!!", zap.String("Signal", sig.String()))
		e.Events.Emit(model.EventSignal, sig.Symbol, *sig)
		e.Metrics.RecordSignal(sig.Direction.String())

		pos, intent, err := e.Manager.Open(*sig, regime, e.now())
		if err != nil {
			if !position.IsDecision(err) {
				e.logger.Warn("Open rejected", zap.String("Symbol", sig.Symbol), zap.Error(err))
			}
			continue
		}
		e.submit(ctx, intent)
		e.Events.Emit(model.EventPositionOpened, pos.Symbol, pos)
		e.Metrics.RecordOpen()
		summary.Opened++
	}

	summary.OpenPositions = e.Manager.Count()
	summary.Duration = e.now().Sub(start)
	e.finish(summary, attempts)
	return summary
}

func (e *Engine) finish(summary model.CycleSummary, attempts int) {
	e.health.observe(summary, attempts)
	if !summary.Skipped && attempts > 0 && summary.FetchErrors >= attempts {
		e.logger.Error("All data requests failed this cycle",
			zap.Uint64("Cycle", summary.Cycle),
			zap.Int("ConsecutiveFailures", e.health.ConsecutiveFailures()),
			zap.Bool("Healthy", e.health.Healthy()),
		)
	}

	e.Metrics.RecordCycle(summary.Duration)
	e.Metrics.SetOpenPositions(summary.OpenPositions)
	e.Metrics.SetRealizedPnL(e.Manager.Ledger().Summary().RealizedPnL)
	e.Events.Emit(model.EventCycleSummary, "", summary)

	if summary.Skipped {
		return
	}
	e.logger.Info("Cycle completed",
		zap.Uint64("Cycle", summary.Cycle),
		zap.Int("Scanned", summary.Scanned),
		zap.Int("Signals", summary.Signals),
		zap.Int("Opened", summary.Opened),
		zap.Int("Closed", summary.Closed),
		zap.Int("Open", summary.OpenPositions),
		zap.Int("FetchErrors", summary.FetchErrors),
		zap.String("Regime", string(summary.Regime)),
		zap.Duration("Took", summary.Duration),
	)
}

// fetchQuotes 并发拉取最新成交价，返回失败数量；锁外执行
func (e *Engine) fetchQuotes(ctx context.Context, symbols []string) (map[string]model.Quote, int) {
	var (
		mu     sync.Mutex
		quotes = make(map[string]model.Quote, len(symbols))
		failed int
	)

	var g errgroup.Group
	g.SetLimit(e.data.MaxConcurrency)
	for _, symbol := range symbols {
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, e.data.RequestTimeout)
			defer cancel()

			q, err := e.Provider.LatestQuote(reqCtx, symbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				e.Metrics.RecordFetchError("quote")
				e.logger.Debug("Quote unavailable", zap.String("Symbol", symbol), zap.Error(err))
				return nil
			}
			quotes[symbol] = q
			return nil
		})
	}
	_ = g.Wait()
	return quotes, failed
}

type scanResult struct {
	signal  *model.Signal
	fetchOK bool
}

// scan 并发拉取 K 线、计算指标并打分
func (e *Engine) scan(ctx context.Context, symbols []string, regime model.VolatilityRegime) ([]*model.Signal, int) {
	results := make([]scanResult, len(symbols))

	var g errgroup.Group
	g.SetLimit(e.data.MaxConcurrency)
	for i, symbol := range symbols {
		g.Go(func() error {
			results[i] = e.evaluate(ctx, symbol, regime)
			return nil
		})
	}
	_ = g.Wait()

	var (
		signals []*model.Signal
		failed  int
	)
	for _, r := range results {
		if !r.fetchOK {
			failed++
			continue
		}
		if r.signal != nil {
			signals = append(signals, r.signal)
		}
	}
	return signals, failed
}

func (e *Engine) evaluate(ctx context.Context, symbol string, regime model.VolatilityRegime) scanResult {
	fine, err := e.bars(ctx, symbol, e.data.FineInterval, e.data.FineLookback)
	if err != nil {
		return e.fetchFailed(symbol, err)
	}
	// 粗粒度失败只影响 MACD/RSI/布林带等，细粒度指标照常打分
	coarse, err := e.bars(ctx, symbol, e.data.CoarseInterval, e.data.CoarseLookback)
	if err != nil {
		e.Metrics.RecordFetchError("bars")
		e.logger.Debug("Coarse bars unavailable", zap.String("Symbol", symbol), zap.Error(err))
		coarse = nil
	}

	snap, err := e.Calculator.Snapshot(symbol, fine, coarse)
	if err != nil {
		// 数据不足是正常情况，不计入请求失败
		e.logger.Debug("Snapshot skipped", zap.String("Symbol", symbol), zap.Error(err))
		return scanResult{fetchOK: true}
	}
	return scanResult{signal: e.Scorer.Score(snap, regime, e.now()), fetchOK: true}
}

func (e *Engine) bars(ctx context.Context, symbol string, interval, lookback time.Duration) ([]model.Bar, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.data.RequestTimeout)
	defer cancel()
	bars, err := e.Provider.GetBars(reqCtx, symbol, interval, lookback)
	if err != nil {
		return nil, fmt.Errorf("%s bars: %w", service.FormatInterval(interval), err)
	}
	return bars, nil
}

func (e *Engine) fetchFailed(symbol string, err error) scanResult {
	e.Metrics.RecordFetchError("bars")
	if errors.Is(err, model.ErrDataUnavailable) {
		e.logger.Debug("No bars", zap.String("Symbol", symbol), zap.Error(err))
	} else {
		e.logger.Warn("Bar fetch failed", zap.String("Symbol", symbol), zap.Error(err))
	}
	return scanResult{}
}

// submit 在持仓管理器决策之后、锁外下单；失败只记录，持仓状态以对账为准
func (e *Engine) submit(ctx context.Context, intent model.Intent) {
	reqCtx, cancel := context.WithTimeout(ctx, e.data.RequestTimeout)
	defer cancel()
	if err := e.Executor.Submit(reqCtx, intent); err != nil {
		e.Metrics.RecordExecutionError(string(intent.Kind))
		e.logger.Error("Order submission failed",
			zap.String("Symbol", intent.Symbol),
			zap.String("Kind", string(intent.Kind)),
			zap.String("Direction", intent.Direction.String()),
			zap.Int64("Qty", intent.Quantity),
			zap.Error(err),
		)
	}
}

func (e *Engine) reconcile(ctx context.Context, regime model.VolatilityRegime) {
	reqCtx, cancel := context.WithTimeout(ctx, e.data.RequestTimeout)
	defer cancel()
	holdings, err := e.Executor.Holdings(reqCtx)
	if err != nil {
		e.Metrics.RecordFetchError("holdings")
		e.logger.Warn("Account holdings unavailable, reconcile skipped", zap.Error(err))
		return
	}
	dropped, adopted := e.Manager.Reconcile(holdings, regime, e.now())
	if len(dropped)+len(adopted) > 0 {
		e.logger.Info("Positions reconciled",
			zap.Int("Dropped", len(dropped)),
			zap.Int("Adopted", len(adopted)),
		)
	}
}
