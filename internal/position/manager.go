package position

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intraday-trader/internal/model"
	"intraday-trader/internal/service"
)

// ReconciledTag 对账时接管的持仓的 rationale
const ReconciledTag = "RECONCILED"

// ExitResult 一次退出检查的结果
type ExitResult struct {
	Closed   []model.ClosedTrade
	Intents  []model.Intent
	Deferred []string // 没有可用价格，留到下个周期
}

// Manager 持仓生命周期：开仓、止盈止损、超时平仓
// 唯一写者：持仓、冷却表都只在 mu 保护下修改，锁内不做任何网络请求
type Manager struct {
	mu          sync.Mutex
	cfg         service.RiskConfig
	maxQuoteAge time.Duration
	positions   map[string]model.Position
	cooldown    *CooldownRegistry
	ledger      *Ledger
	logger      *zap.Logger
	newID       func() string
}

// NewManager 初始化持仓管理器
func NewManager(cfg service.RiskConfig, maxQuoteAge time.Duration, ledger *Ledger, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		maxQuoteAge: maxQuoteAge,
		positions:   make(map[string]model.Position),
		cooldown:    NewCooldownRegistry(cfg.Cooldown),
		ledger:      ledger,
		logger:      logger,
		newID:       uuid.NewString,
	}
}

func (m *Manager) Ledger() *Ledger {
	return m.ledger
}

// Eligible 过滤掉已有持仓和冷却中的标的，保持原顺序
func (m *Manager) Eligible(symbols []string, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, held := m.positions[s]; held {
			continue
		}
		if m.cooldown.Active(s, now) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Open 根据信号开仓
// 重复持仓、冷却、满仓、数量不足一股都以哨兵错误返回，属于正常决策
// 通过重复和冷却检查的信号都会记录冷却时间，即使最终因为满仓或数量不足没有开仓
func (m *Manager) Open(sig model.Signal, regime model.VolatilityRegime, now time.Time) (model.Position, model.Intent, error) {
	if sig.EntryPrice <= 0 || math.IsNaN(sig.EntryPrice) {
		return model.Position{}, model.Intent{}, fmt.Errorf("%s entry %.4f: %w", sig.Symbol, sig.EntryPrice, model.ErrInvalidPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.positions[sig.Symbol]; held {
		return model.Position{}, model.Intent{}, model.ErrPositionExists
	}
	if m.cooldown.Active(sig.Symbol, now) {
		return model.Position{}, model.Intent{}, model.ErrCooldown
	}
	stampAt := sig.GeneratedAt
	if stampAt.IsZero() {
		stampAt = now
	}
	m.cooldown.Stamp(sig.Symbol, stampAt)

	if len(m.positions) >= m.cfg.MaxPositions {
		m.logger.Info("Capacity exhausted, signal skipped",
			zap.String("Symbol", sig.Symbol),
			zap.Int("Open", len(m.positions)),
		)
		return model.Position{}, model.Intent{}, model.ErrCapacity
	}

	qty := Quantity(m.cfg.NotionalBudget, m.cfg.PositionSizeFraction, sig.Confidence, sig.EntryPrice)
	if qty < 1 {
		m.logger.Debug("Quantity below one share, signal skipped",
			zap.String("Symbol", sig.Symbol),
			zap.Float64("Entry", sig.EntryPrice),
			zap.Float64("Confidence", sig.Confidence),
		)
		return model.Position{}, model.Intent{}, model.ErrQuantityTooSmall
	}

	sl, tp := ProtectivePrices(sig.Direction, sig.EntryPrice, regime.StopLossPct, regime.TakeProfitPct)
	pos := model.Position{
		ID:              m.newID(),
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		EntryPrice:      sig.EntryPrice,
		Quantity:        qty,
		Confidence:      sig.Confidence,
		StopLossPrice:   sl,
		TakeProfitPrice: tp,
		Rationale:       append([]string(nil), sig.Rationale...),
		OpenedAt:        now,
	}
	m.positions[pos.Symbol] = pos

	m.logger.Info("Position opened",
		zap.String("Symbol", pos.Symbol),
		zap.String("Direction", pos.Direction.String()),
		zap.Int64("Qty", pos.Quantity),
		zap.Float64("Entry", pos.EntryPrice),
		zap.Float64("SL", pos.StopLossPrice),
		zap.Float64("TP", pos.TakeProfitPrice),
		zap.String("Regime", string(regime.Level)),
	)

	return pos, m.intent(model.IntentOpen, pos, pos.EntryPrice, "SIGNAL", now), nil
}

// EvaluateExits 检查所有持仓，优先级: 止盈 > 止损 > 超时
// 止盈止损百分比使用当前的波动状态，而不是开仓时的
func (m *Manager) EvaluateExits(quotes map[string]model.Quote, regime model.VolatilityRegime, now time.Time) ExitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res ExitResult
	for _, pos := range m.sortedLocked() {
		q, ok := quotes[pos.Symbol]
		if !ok || q.Price <= 0 || (m.maxQuoteAge > 0 && now.Sub(q.Timestamp) > m.maxQuoteAge) {
			res.Deferred = append(res.Deferred, pos.Symbol)
			continue
		}

		reason, exit := m.exitReason(pos, q.Price, regime, now)
		if !exit {
			continue
		}

		trade := m.closeLocked(pos, q.Price, reason, now)
		res.Closed = append(res.Closed, trade)
		res.Intents = append(res.Intents, m.intent(model.IntentClose, pos, q.Price, string(reason), now))
	}

	if len(res.Deferred) > 0 {
		m.logger.Debug("Exit evaluation deferred", zap.Strings("Symbols", res.Deferred))
	}
	return res
}

func (m *Manager) exitReason(pos model.Position, price float64, regime model.VolatilityRegime, now time.Time) (model.ExitReason, bool) {
	pnlPct := pos.PnLPct(price)
	switch {
	case pnlPct >= regime.TakeProfitPct:
		return model.ExitTakeProfit, true
	case pnlPct <= -regime.StopLossPct:
		return model.ExitStopLoss, true
	case now.Sub(pos.OpenedAt) > m.cfg.MaxHoldDuration:
		return model.ExitTimeStop, true
	}
	return "", false
}

// closeLocked 生成成交记录、写入账本、重置冷却，调用方持有 mu
func (m *Manager) closeLocked(pos model.Position, price float64, reason model.ExitReason, now time.Time) model.ClosedTrade {
	trade := model.ClosedTrade{
		ID:         m.newID(),
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   pos.Quantity,
		PnL:        pos.PnL(price),
		ExitReason: reason,
		Rationale:  pos.Rationale,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
		Duration:   now.Sub(pos.OpenedAt),
	}
	delete(m.positions, pos.Symbol)
	m.ledger.Append(trade)
	m.cooldown.Stamp(pos.Symbol, now)

	m.logger.Info("Position closed",
		zap.String("Symbol", trade.Symbol),
		zap.String("Reason", string(reason)),
		zap.String("Direction", trade.Direction.String()),
		zap.Float64("Entry", trade.EntryPrice),
		zap.Float64("Exit", trade.ExitPrice),
		zap.Float64("PnL", trade.PnL),
		zap.Duration("Held", trade.Duration),
	)
	return trade
}

// Reconcile 实盘模式下与账户持仓对账
// 账户里已经没有的持仓直接移除 (不记账，成交价未知)；账户里有但未跟踪的持仓按当前波动状态接管
func (m *Manager) Reconcile(holdings []model.Holding, regime model.VolatilityRegime, now time.Time) (dropped, adopted []model.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := make(map[string]model.Holding, len(holdings))
	for _, h := range holdings {
		if h.Quantity > 0 {
			held[h.Symbol] = h
		}
	}

	for symbol, pos := range m.positions {
		if _, ok := held[symbol]; !ok {
			delete(m.positions, symbol)
			dropped = append(dropped, pos)
			m.logger.Warn("Position missing from account, dropped", zap.String("Symbol", symbol))
		}
	}

	for symbol, h := range held {
		if _, ok := m.positions[symbol]; ok {
			continue
		}
		sl, tp := ProtectivePrices(h.Direction, h.AvgEntryPrice, regime.StopLossPct, regime.TakeProfitPct)
		pos := model.Position{
			ID:              m.newID(),
			Symbol:          symbol,
			Direction:       h.Direction,
			EntryPrice:      h.AvgEntryPrice,
			Quantity:        h.Quantity,
			StopLossPrice:   sl,
			TakeProfitPrice: tp,
			Rationale:       []string{ReconciledTag},
			OpenedAt:        now,
		}
		m.positions[symbol] = pos
		adopted = append(adopted, pos)
		m.logger.Warn("Untracked account holding adopted",
			zap.String("Symbol", symbol),
			zap.Int64("Qty", h.Quantity),
			zap.Float64("AvgEntry", h.AvgEntryPrice),
		)
	}
	return dropped, adopted
}

// Positions 当前持仓的快照，按开仓时间排序
func (m *Manager) Positions() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

func (m *Manager) sortedLocked() []model.Position {
	out := make([]model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (m *Manager) intent(kind model.IntentKind, pos model.Position, price float64, reason string, now time.Time) model.Intent {
	return model.Intent{
		ID:         m.newID(),
		Kind:       kind,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Quantity:   pos.Quantity,
		Price:      price,
		Reason:     reason,
		CreatedAt:  now,
	}
}

// Quantity floor(budget × fraction × confidence / entry)
func Quantity(budget, fraction, confidence, entry float64) int64 {
	if entry <= 0 {
		return 0
	}
	return int64(math.Floor(budget * fraction * confidence / entry))
}

// ProtectivePrices 止损止盈价格，空头方向翻转
func ProtectivePrices(dir model.Direction, entry, stopPct, takePct float64) (stopLoss, takeProfit float64) {
	sign := dir.Sign()
	return entry * (1 - sign*stopPct), entry * (1 + sign*takePct)
}

// IsDecision 开仓被正常拒绝 (不是故障)
func IsDecision(err error) bool {
	return errors.Is(err, model.ErrPositionExists) ||
		errors.Is(err, model.ErrCooldown) ||
		errors.Is(err, model.ErrCapacity) ||
		errors.Is(err, model.ErrQuantityTooSmall)
}
