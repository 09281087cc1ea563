package strategy

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"intraday-trader/internal/api"
	"intraday-trader/internal/model"
	"intraday-trader/internal/service"
)

// RegimeClassifier 根据样本股票的 5 分钟波动率判断市场整体状态
// 单写多读：Refresh 计算完成后用原子指针整体替换，读者永远不会阻塞
type RegimeClassifier struct {
	cfg      service.RegimeConfig
	interval time.Duration
	lookback time.Duration
	limit    int
	provider api.BarProvider
	logger   *zap.Logger

	current   atomic.Pointer[model.VolatilityRegime]
	onPublish []func(model.VolatilityRegime)
	now       func() time.Time
}

// NewRegimeClassifier 初始化分类器，刷新前先发布 normal 兜底状态
func NewRegimeClassifier(cfg service.RegimeConfig, data service.DataConfig, provider api.BarProvider, logger *zap.Logger) *RegimeClassifier {
	rc := &RegimeClassifier{
		cfg:      cfg,
		interval: data.CoarseInterval,
		lookback: data.CoarseLookback,
		limit:    data.MaxConcurrency,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
	fallback := rc.fallback(0)
	rc.current.Store(&fallback)
	return rc
}

// OnPublish 注册发布回调 (事件、指标)，必须在 Run 之前调用
func (rc *RegimeClassifier) OnPublish(fn func(model.VolatilityRegime)) {
	rc.onPublish = append(rc.onPublish, fn)
}

// Current 返回最近一次发布的状态
func (rc *RegimeClassifier) Current() model.VolatilityRegime {
	return *rc.current.Load()
}

// Run 按 every 周期刷新，直到 ctx 结束
func (rc *RegimeClassifier) Run(ctx context.Context, universe []string, every time.Duration) {
	rc.Refresh(ctx, universe)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		rc.Refresh(ctx, universe)
	}
}

type sampleStat struct {
	vol    float64
	change float64
	ok     bool
}

// Refresh 拉取样本数据，计算并发布新的状态
// 网络请求期间不持有任何锁，发布是一次原子替换
func (rc *RegimeClassifier) Refresh(ctx context.Context, universe []string) model.VolatilityRegime {
	sample := universe
	if len(sample) > rc.cfg.SampleSize {
		sample = sample[:rc.cfg.SampleSize]
	}

	stats := make([]sampleStat, len(sample))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.limit)
	for i, symbol := range sample {
		g.Go(func() error {
			bars, err := rc.provider.GetBars(gctx, symbol, rc.interval, rc.lookback)
			if err != nil {
				rc.logger.Debug("Regime sample fetch failed", zap.String("Symbol", symbol), zap.Error(err))
				return nil
			}
			vol, change, ok := SessionVolatility(bars, rc.cfg.AnnualizationPeriods, rc.cfg.MinBars)
			stats[i] = sampleStat{vol: vol, change: change, ok: ok}
			return nil
		})
	}
	_ = g.Wait()

	// 取消后样本请求全部失败，不能用回退值覆盖已发布的状态
	if ctx.Err() != nil {
		return rc.Current()
	}

	var sumVol, sumChange float64
	usable := 0
	for _, s := range stats {
		if !s.ok {
			continue
		}
		sumVol += s.vol
		sumChange += s.change
		usable++
	}

	var regime model.VolatilityRegime
	if usable < rc.cfg.MinSampleSymbols {
		regime = rc.fallback(usable)
		rc.logger.Warn("Not enough usable regime samples, using fallback",
			zap.Int("Usable", usable),
			zap.Int("Required", rc.cfg.MinSampleSymbols),
		)
	} else {
		regime = Classify(rc.cfg.Levels, sumVol/float64(usable), sumChange/float64(usable), usable, rc.now())
	}

	prev := rc.current.Swap(&regime)
	if prev == nil || prev.Level != regime.Level || prev.Fallback != regime.Fallback {
		rc.logger.Info("!!! Regime Transition !!!",
			zap.String("From", levelOf(prev)),
			zap.String("To", string(regime.Level)),
			zap.Float64("AvgVolatility", regime.AvgVolatility),
			zap.Float64("AvgChange", regime.AvgChange),
			zap.Int("Samples", regime.SampleSize),
		)
	}
	for _, fn := range rc.onPublish {
		fn(regime)
	}
	return regime
}

func (rc *RegimeClassifier) fallback(sampleSize int) model.VolatilityRegime {
	return model.VolatilityRegime{
		Level:               model.RegimeNormal,
		ConfidenceThreshold: rc.cfg.FallbackThreshold,
		StopLossPct:         rc.cfg.FallbackStopLossPct,
		TakeProfitPct:       rc.cfg.FallbackTakeProfitPct,
		AvgVolatility:       rc.cfg.FallbackVolatility,
		AvgChange:           rc.cfg.FallbackChange,
		SampleSize:          sampleSize,
		Fallback:            true,
		ComputedAt:          rc.now(),
	}
}

// Classify 按分档表映射平均波动率，第一档 MaxVolatility 大于均值的胜出，最后一档兜底
func Classify(levels []service.RegimeLevelConfig, avgVol, avgChange float64, sampleSize int, now time.Time) model.VolatilityRegime {
	row := levels[len(levels)-1]
	for _, l := range levels[:len(levels)-1] {
		if avgVol < l.MaxVolatility {
			row = l
			break
		}
	}
	return model.VolatilityRegime{
		Level:               row.Level,
		ConfidenceThreshold: row.ConfidenceThreshold,
		StopLossPct:         row.StopLossPct,
		TakeProfitPct:       row.TakeProfitPct,
		AvgVolatility:       avgVol,
		AvgChange:           avgChange,
		SampleSize:          sampleSize,
		ComputedAt:          now,
	}
}

// SessionVolatility 计算最近一个交易日的波动率和日内涨跌幅
// 波动率 = 收益率样本标准差 × sqrt(annualization)，日内涨跌幅 = |末收盘 - 首收盘| / 首收盘
func SessionVolatility(bars []model.Bar, annualization float64, minBars int) (vol, change float64, ok bool) {
	session := sessionBars(bars)
	if len(session) < minBars {
		return 0, 0, false
	}

	returns := make([]float64, 0, len(session)-1)
	for i := 1; i < len(session); i++ {
		prev := session[i-1].Close
		if prev <= 0 {
			continue
		}
		returns = append(returns, (session[i].Close-prev)/prev)
	}
	if len(returns) < 2 {
		return 0, 0, false
	}

	first := session[0].Close
	if first <= 0 {
		return 0, 0, false
	}

	vol = sampleStdDev(returns) * math.Sqrt(annualization)
	change = math.Abs(session[len(session)-1].Close-first) / first
	return vol, change, true
}

// sessionBars 只保留与最后一根 K 线同一 UTC 日期的 K 线 (美股常规时段不跨 UTC 日)
func sessionBars(bars []model.Bar) []model.Bar {
	if len(bars) == 0 {
		return nil
	}
	ly, lm, ld := bars[len(bars)-1].Timestamp.UTC().Date()
	start := len(bars) - 1
	for start > 0 {
		y, m, d := bars[start-1].Timestamp.UTC().Date()
		if y != ly || m != lm || d != ld {
			break
		}
		start--
	}
	return bars[start:]
}

func sampleStdDev(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func levelOf(r *model.VolatilityRegime) string {
	if r == nil {
		return "none"
	}
	return string(r.Level)
}
