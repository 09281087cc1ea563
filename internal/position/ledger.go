package position

import (
	"sync"

	"intraday-trader/internal/model"
)

// LedgerSummary 由成交记录推导出的统计，每次读取时重新计算
type LedgerSummary struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	RealizedPnL float64 `json:"realized_pnl"`
	BestTrade   float64 `json:"best_trade"`
	WorstTrade  float64 `json:"worst_trade"`
}

// Ledger 只追加的已平仓交易记录
type Ledger struct {
	mu     sync.RWMutex
	trades []model.ClosedTrade
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Append(t model.ClosedTrade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, t)
}

// Trades 返回副本，调用方可以随意修改
func (l *Ledger) Trades() []model.ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.ClosedTrade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *Ledger) Summary() LedgerSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s LedgerSummary
	for i, t := range l.trades {
		s.Trades++
		s.RealizedPnL += t.PnL
		switch {
		case t.PnL > 0:
			s.Wins++
		case t.PnL < 0:
			s.Losses++
		}
		if i == 0 || t.PnL > s.BestTrade {
			s.BestTrade = t.PnL
		}
		if i == 0 || t.PnL < s.WorstTrade {
			s.WorstTrade = t.PnL
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	return s
}
