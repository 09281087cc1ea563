package model

import (
	"fmt"
	"strings"
	"time"
)

type Direction string

const (
	DirLong  Direction = "LONG"  // 多
	DirShort Direction = "SHORT" // 空
)

func (d Direction) String() string {
	return string(d)
}

// Sign 多头为 +1，空头为 -1，用于止损止盈价格和盈亏的方向翻转
func (d Direction) Sign() float64 {
	if d == DirShort {
		return -1
	}
	return 1
}

// RegimeLevel 市场整体波动等级
type RegimeLevel string

const (
	RegimeLow     RegimeLevel = "low"
	RegimeNormal  RegimeLevel = "normal"
	RegimeHigh    RegimeLevel = "high"
	RegimeExtreme RegimeLevel = "extreme"
)

// Ordinal 用于指标上报 (0..3)
func (l RegimeLevel) Ordinal() int {
	switch l {
	case RegimeLow:
		return 0
	case RegimeNormal:
		return 1
	case RegimeHigh:
		return 2
	case RegimeExtreme:
		return 3
	}
	return -1
}

// VolatilityRegime 是分类器发布的只读快照，发布后不再修改
type VolatilityRegime struct {
	Level               RegimeLevel `json:"level"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
	StopLossPct         float64     `json:"stop_loss_pct"`
	TakeProfitPct       float64     `json:"take_profit_pct"`
	AvgVolatility       float64     `json:"avg_volatility"`
	AvgChange           float64     `json:"avg_change"`
	SampleSize          int         `json:"sample_size"`
	Fallback            bool        `json:"fallback"` // 可用样本不足时使用的默认值
	ComputedAt          time.Time   `json:"computed_at"`
}

// IndicatorSnapshot 单个标的在某一时刻的指标
// 指针为 nil 表示数据不足未计算，规则遇到 nil 时不投票
type IndicatorSnapshot struct {
	Symbol         string
	AsOf           time.Time
	Price          float64
	Return1        *float64 // 最近一根细周期 K 线的涨跌幅
	ReturnN        *float64 // 相对上一根粗周期收盘价的涨跌幅
	RSI            *float64
	MACDHist       *float64
	VolumeRatio    *float64
	SMA            *float64
	BollingerUpper *float64
	BollingerLower *float64
	RollingHigh    *float64
	RollingLow     *float64
	VWAP           *float64
}

// Signal 评分器输出的方向性判断
type Signal struct {
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	EntryPrice  float64   `json:"entry_price"`
	Confidence  float64   `json:"confidence"`
	Rationale   []string  `json:"rationale"`
	LongScore   float64   `json:"long_score"`
	ShortScore  float64   `json:"short_score"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (s Signal) String() string {
	return fmt.Sprintf("SIGNAL [%s | %s] @ %.2f | Conf: %.2f | L/S: %.2f/%.2f | %s",
		s.Symbol, s.Direction, s.EntryPrice, s.Confidence, s.LongScore, s.ShortScore, strings.Join(s.Rationale, ","))
}

// Position 当前持仓，每个标的最多一个
type Position struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Direction       Direction `json:"direction"`
	EntryPrice      float64   `json:"entry_price"`
	Quantity        int64     `json:"quantity"`
	Confidence      float64   `json:"confidence"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	Rationale       []string  `json:"rationale"`
	OpenedAt        time.Time `json:"opened_at"`
}

// PnLPct 按方向计算的收益率
func (p Position) PnLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * p.Direction.Sign()
}

// PnL 按方向计算的已实现盈亏
func (p Position) PnL(exitPrice float64) float64 {
	return (exitPrice - p.EntryPrice) * float64(p.Quantity) * p.Direction.Sign()
}

type ExitReason string

const (
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTimeStop   ExitReason = "TIME_STOP"
)

// ClosedTrade 一笔完整的开平仓记录，只追加不修改
type ClosedTrade struct {
	ID         string        `json:"id"`
	PositionID string        `json:"position_id"`
	Symbol     string        `json:"symbol"`
	Direction  Direction     `json:"direction"`
	EntryPrice float64       `json:"entry_price"`
	ExitPrice  float64       `json:"exit_price"`
	Quantity   int64         `json:"quantity"`
	PnL        float64       `json:"pnl"`
	ExitReason ExitReason    `json:"exit_reason"`
	Rationale  []string      `json:"rationale"`
	OpenedAt   time.Time     `json:"opened_at"`
	ClosedAt   time.Time     `json:"closed_at"`
	Duration   time.Duration `json:"duration"`
}

// IntentKind 交给执行器的指令类型
type IntentKind string

const (
	IntentOpen  IntentKind = "OPEN"
	IntentClose IntentKind = "CLOSE"
)

// Intent 持仓管理器做出决策后交给执行器的指令
type Intent struct {
	ID         string     `json:"id"`
	Kind       IntentKind `json:"kind"`
	PositionID string     `json:"position_id"`
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction"` // 持仓方向，而不是买卖方向
	Quantity   int64      `json:"quantity"`
	Price      float64    `json:"price"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Holding 账户实际持仓 (对账用)
type Holding struct {
	Symbol        string
	Direction     Direction
	Quantity      int64
	AvgEntryPrice float64
}
