package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder 扫描引擎的 Prometheus 指标
type Recorder struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	fetchErrors   *prometheus.CounterVec
	signals       *prometheus.CounterVec
	opens         prometheus.Counter
	closes        *prometheus.CounterVec
	openPositions prometheus.Gauge
	realizedPnL   prometheus.Gauge
	regimeLevel   prometheus.Gauge
	sinkErrors    *prometheus.CounterVec
	execErrors    *prometheus.CounterVec
}

// New 在 reg 上注册全部指标；传 prometheus.DefaultRegisterer 即为全局注册
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "intraday_cycles_total",
			Help: "Total number of completed scan cycles",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "intraday_cycle_duration_seconds",
			Help:    "Duration of a scan cycle in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_fetch_errors_total",
			Help: "Market data fetch failures",
		}, []string{"kind"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_signals_total",
			Help: "Signals produced by the scorer",
		}, []string{"direction"}),
		opens: f.NewCounter(prometheus.CounterOpts{
			Name: "intraday_positions_opened_total",
			Help: "Positions opened",
		}),
		closes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_positions_closed_total",
			Help: "Positions closed by exit reason",
		}, []string{"reason"}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "intraday_open_positions",
			Help: "Currently open positions",
		}),
		realizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Name: "intraday_realized_pnl",
			Help: "Cumulative realized P&L in account currency",
		}),
		regimeLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "intraday_regime_level",
			Help: "Current volatility regime (0 low, 1 normal, 2 high, 3 extreme)",
		}),
		sinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_event_sink_errors_total",
			Help: "Event delivery failures by sink",
		}, []string{"sink"}),
		execErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_execution_errors_total",
			Help: "Order intents the executor rejected",
		}, []string{"kind"}),
	}
}

func (r *Recorder) RecordCycle(d time.Duration) {
	r.cycles.Inc()
	r.cycleDuration.Observe(d.Seconds())
}

// RecordFetchError kind: bars / quote / holdings
func (r *Recorder) RecordFetchError(kind string) {
	r.fetchErrors.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordSignal(direction string) {
	r.signals.WithLabelValues(direction).Inc()
}

func (r *Recorder) RecordOpen() {
	r.opens.Inc()
}

func (r *Recorder) RecordClose(reason string) {
	r.closes.WithLabelValues(reason).Inc()
}

func (r *Recorder) SetOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

func (r *Recorder) SetRealizedPnL(v float64) {
	r.realizedPnL.Set(v)
}

func (r *Recorder) SetRegime(ordinal int) {
	r.regimeLevel.Set(float64(ordinal))
}

func (r *Recorder) RecordSinkError(sink string) {
	r.sinkErrors.WithLabelValues(sink).Inc()
}

// RecordExecutionError kind: OPEN / CLOSE
func (r *Recorder) RecordExecutionError(kind string) {
	r.execErrors.WithLabelValues(kind).Inc()
}
