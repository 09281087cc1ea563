package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"intraday-trader/internal/model"
)

// SimulatorConfig 模拟器配置
type SimulatorConfig struct {
	InitialCapital float64 // 初始资金
	FeeRate        float64 // 手续费率 (例如 0.0005)，美股零佣金时为 0
}

// Fill 模拟成交记录
type Fill struct {
	IntentID string
	Symbol   string
	Buy      bool
	Quantity int64
	Price    float64
	Fee      float64
	Time     time.Time
}

type simHolding struct {
	direction model.Direction
	quantity  int64
	avgPrice  float64
	mark      float64 // 最近一次成交价，用于估算净值
}

// SimulatorExecutor 纸面交易：按指令价格立即成交
type SimulatorExecutor struct {
	cfg    SimulatorConfig
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	cash      float64
	maxEquity float64
	holdings  map[string]*simHolding
	fills     []Fill
}

// NewSimulatorExecutor 构造函数
func NewSimulatorExecutor(cfg SimulatorConfig, logger *zap.Logger) *SimulatorExecutor {
	return &SimulatorExecutor{
		cfg:       cfg,
		logger:    logger.Sugar(),
		cash:      cfg.InitialCapital,
		maxEquity: cfg.InitialCapital,
		holdings:  make(map[string]*simHolding),
	}
}

// Submit 模拟下单和成交
func (e *SimulatorExecutor) Submit(_ context.Context, intent model.Intent) error {
	if intent.Quantity <= 0 || intent.Price <= 0 {
		return fmt.Errorf("sim rejected %s: qty %d price %.4f", intent.Symbol, intent.Quantity, intent.Price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	notional := float64(intent.Quantity) * intent.Price
	fee := notional * e.cfg.FeeRate
	buy := isBuy(intent)

	switch intent.Kind {
	case model.IntentOpen:
		if _, exists := e.holdings[intent.Symbol]; exists {
			return fmt.Errorf("sim rejected %s: holding already exists", intent.Symbol)
		}
		e.holdings[intent.Symbol] = &simHolding{
			direction: intent.Direction,
			quantity:  intent.Quantity,
			avgPrice:  intent.Price,
			mark:      intent.Price,
		}
	case model.IntentClose:
		h, exists := e.holdings[intent.Symbol]
		if !exists {
			return fmt.Errorf("sim rejected %s: no holding to close", intent.Symbol)
		}
		if intent.Quantity != h.quantity {
			return fmt.Errorf("sim rejected %s: close qty %d != held %d", intent.Symbol, intent.Quantity, h.quantity)
		}
		delete(e.holdings, intent.Symbol)
	default:
		return fmt.Errorf("sim rejected %s: unknown intent kind %q", intent.Symbol, intent.Kind)
	}

	// 买入付现金，卖出 (含卖空) 收现金
	if buy {
		e.cash -= notional
	} else {
		e.cash += notional
	}
	e.cash -= fee

	e.fills = append(e.fills, Fill{
		IntentID: intent.ID,
		Symbol:   intent.Symbol,
		Buy:      buy,
		Quantity: intent.Quantity,
		Price:    intent.Price,
		Fee:      fee,
		Time:     intent.CreatedAt,
	})

	equity := e.equityLocked()
	if equity > e.maxEquity {
		e.maxEquity = equity
	}

	e.logger.Infof("Sim ORDER FILLED (%s): %s %s %d @ %.4f. Fee: %.4f. Cash: %.2f, Equity: %.2f",
		intent.Kind, intent.Direction, intent.Symbol, intent.Quantity, intent.Price, fee, e.cash, equity)
	return nil
}

// Mark 用最新价格更新持仓估值
func (e *SimulatorExecutor) Mark(quotes map[string]model.Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, q := range quotes {
		if h, ok := e.holdings[symbol]; ok && q.Price > 0 {
			h.mark = q.Price
		}
	}
	if equity := e.equityLocked(); equity > e.maxEquity {
		e.maxEquity = equity
	}
}

func (e *SimulatorExecutor) Holdings(_ context.Context) ([]model.Holding, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Holding, 0, len(e.holdings))
	for symbol, h := range e.holdings {
		out = append(out, model.Holding{
			Symbol:        symbol,
			Direction:     h.direction,
			Quantity:      h.quantity,
			AvgEntryPrice: h.avgPrice,
		})
	}
	return out, nil
}

// Equity 现金 + 多头市值 - 空头市值
func (e *SimulatorExecutor) Equity(_ context.Context) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equityLocked(), nil
}

// MaxEquity 返回账户历史上的最高净值
func (e *SimulatorExecutor) MaxEquity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxEquity
}

func (e *SimulatorExecutor) Fills() []Fill {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fill, len(e.fills))
	copy(out, e.fills)
	return out
}

func (e *SimulatorExecutor) equityLocked() float64 {
	equity := e.cash
	for _, h := range e.holdings {
		value := float64(h.quantity) * h.mark
		if h.direction == model.DirShort {
			equity -= value
		} else {
			equity += value
		}
	}
	return equity
}
