package ta

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"intraday-trader/internal/model"
)

// Params 指标周期参数
type Params struct {
	RSIPeriod      int
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
	BollingerLen   int
	BollingerWidth float64
	VolumeWindow   int
	RollingWindow  int
}

// DefaultParams RSI14 / MACD(12,26,9) / BB(20,2) / 量比 20 / 高低点 10
func DefaultParams() Params {
	return Params{
		RSIPeriod:      14,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		BollingerLen:   20,
		BollingerWidth: 2,
		VolumeWindow:   20,
		RollingWindow:  10,
	}
}

// TACalculator 根据细周期 (1m) 和粗周期 (5m) K 线计算指标快照
// 无状态，可以被多个 goroutine 同时调用
type TACalculator struct {
	params Params
	logger *zap.Logger
}

// NewTACalculator 初始化技术指标计算器
func NewTACalculator(params Params, logger *zap.Logger) *TACalculator {
	return &TACalculator{params: params, logger: logger}
}

// Snapshot 计算单个标的的指标
// 细周期: 价格、涨跌幅、量比、VWAP; 粗周期: RSI、MACD、均线、布林带、高低点
// 数据不足的指标留空，不影响其他指标
func (tc *TACalculator) Snapshot(symbol string, fine, coarse []model.Bar) (*model.IndicatorSnapshot, error) {
	if len(fine) < 2 {
		return nil, fmt.Errorf("%s: %d fine bars: %w", symbol, len(fine), model.ErrInsufficientBars)
	}

	last := fine[len(fine)-1]
	if last.Close <= 0 {
		return nil, fmt.Errorf("%s: last close %.4f: %w", symbol, last.Close, model.ErrInvalidPrice)
	}

	snap := &model.IndicatorSnapshot{
		Symbol: symbol,
		AsOf:   last.Timestamp,
		Price:  last.Close,
	}

	if prev := fine[len(fine)-2].Close; prev > 0 {
		snap.Return1 = ptr((last.Close - prev) / prev)
	}
	snap.VolumeRatio = tc.volumeRatio(fine)
	snap.VWAP = vwap(fine)

	if len(coarse) > 0 {
		tc.coarseIndicators(snap, coarse)
	}

	tc.logger.Debug("Indicator snapshot computed",
		zap.String("Symbol", symbol),
		zap.Int("FineBars", len(fine)),
		zap.Int("CoarseBars", len(coarse)),
	)
	return snap, nil
}

func (tc *TACalculator) coarseIndicators(snap *model.IndicatorSnapshot, coarse []model.Bar) {
	p := tc.params
	closes := model.Closes(coarse)
	n := len(closes)

	if lastCoarse := closes[n-1]; lastCoarse > 0 {
		snap.ReturnN = ptr((snap.Price - lastCoarse) / lastCoarse)
	}

	// --- RSI (Wilder) ---
	if n > p.RSIPeriod {
		if !hasLoss(closes) {
			// 平均跌幅为 0 时 RSI 饱和为 100
			snap.RSI = ptr(100)
		} else {
			snap.RSI = lastValid(talib.Rsi(closes, p.RSIPeriod))
		}
	}

	// --- MACD 柱 ---
	if n >= p.MACDSlow+p.MACDSignal-1 {
		_, _, hist := talib.Macd(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
		snap.MACDHist = lastValid(hist)
	}

	// --- 均线与布林带 ---
	if n >= p.BollingerLen {
		mid := lastValid(talib.Sma(closes, p.BollingerLen))
		snap.SMA = mid
		up, _, _ := talib.BBands(closes, p.BollingerLen, p.BollingerWidth, p.BollingerWidth, talib.SMA)
		if u := lastValid(up); mid != nil && u != nil {
			// talib 用总体标准差，带宽按样本标准差 (n-1) 换算
			off := (*u - *mid) * sampleScale(p.BollingerLen)
			snap.BollingerUpper = ptr(*mid + off)
			snap.BollingerLower = ptr(*mid - off)
		}
	}

	// --- 前 N 根粗周期 K 线的高低点 (不含最新一根) ---
	if n > p.RollingWindow {
		window := coarse[n-1-p.RollingWindow : n-1]
		high, low := window[0].High, window[0].Low
		for _, b := range window[1:] {
			high = math.Max(high, b.High)
			low = math.Min(low, b.Low)
		}
		snap.RollingHigh = ptr(high)
		snap.RollingLow = ptr(low)
	}
}

// volumeRatio 最新成交量 / 最近 VolumeWindow 根的平均成交量，平均量为 0 时返回 1
func (tc *TACalculator) volumeRatio(fine []model.Bar) *float64 {
	w := tc.params.VolumeWindow
	if len(fine) < w {
		return nil
	}
	vols := model.Volumes(fine)
	avg := talib.Sma(vols, w)[len(vols)-1]
	if avg <= 0 || math.IsNaN(avg) {
		return ptr(1)
	}
	return ptr(vols[len(vols)-1] / avg)
}

// vwap 成交量加权均价，优先使用数据源给出的单根 VWAP，否则用典型价
func vwap(bars []model.Bar) *float64 {
	var pv, vol float64
	for _, b := range bars {
		price := b.VWAP
		if price <= 0 {
			price = (b.High + b.Low + b.Close) / 3
		}
		pv += price * b.Volume
		vol += b.Volume
	}
	if vol <= 0 {
		return nil
	}
	return ptr(pv / vol)
}

func hasLoss(closes []float64) bool {
	for i := 1; i < len(closes); i++ {
		if closes[i] < closes[i-1] {
			return true
		}
	}
	return false
}

func lastValid(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	v := xs[len(xs)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return ptr(v)
}

// sampleScale 总体标准差换算为样本标准差的系数 sqrt(n/(n-1))
func sampleScale(n int) float64 {
	if n < 2 {
		return 1
	}
	return math.Sqrt(float64(n) / float64(n-1))
}

func ptr(v float64) *float64 {
	return &v
}
