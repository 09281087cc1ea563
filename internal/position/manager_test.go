package position

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"intraday-trader/internal/model"
	"intraday-trader/internal/service"
)

var (
	t0     = time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	normal = model.VolatilityRegime{Level: model.RegimeNormal, ConfidenceThreshold: 0.45, StopLossPct: 0.005, TakeProfitPct: 0.008}
)

func riskConfig() service.RiskConfig {
	return service.RiskConfig{
		NotionalBudget:       10000,
		PositionSizeFraction: 0.1,
		MaxPositions:         5,
		Cooldown:             30 * time.Second,
		MaxHoldDuration:      15 * time.Minute,
	}
}

func newManager(cfg service.RiskConfig) *Manager {
	m := NewManager(cfg, 2*time.Minute, NewLedger(), zap.NewNop())
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return m
}

func signal(symbol string, dir model.Direction, entry, conf float64, at time.Time) model.Signal {
	return model.Signal{Symbol: symbol, Direction: dir, EntryPrice: entry, Confidence: conf, Rationale: []string{"MOM+"}, GeneratedAt: at}
}

func quote(symbol string, price float64, at time.Time) map[string]model.Quote {
	return map[string]model.Quote{symbol: {Symbol: symbol, Price: price, Timestamp: at}}
}

func TestOpenSizesAndProtects(t *testing.T) {
	m := newManager(riskConfig())

	pos, intent, err := m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	// 10000 × 0.1 × 0.5 / 100 = 5
	if pos.Quantity != 5 {
		t.Fatalf("expected qty 5, got %d", pos.Quantity)
	}
	if math.Abs(pos.StopLossPrice-99.5) > 1e-9 || math.Abs(pos.TakeProfitPrice-100.8) > 1e-9 {
		t.Fatalf("unexpected long SL/TP %f/%f", pos.StopLossPrice, pos.TakeProfitPrice)
	}
	if intent.Kind != model.IntentOpen || intent.Quantity != 5 || intent.PositionID != pos.ID {
		t.Fatalf("unexpected intent %+v", intent)
	}

	short, _, err := m.Open(signal("BBB", model.DirShort, 50, 0.5, t0), normal, t0)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if !(short.StopLossPrice > short.EntryPrice && short.TakeProfitPrice < short.EntryPrice) {
		t.Fatalf("short SL/TP on wrong side: %+v", short)
	}
}

func TestOpenRejectsDuplicate(t *testing.T) {
	m := newManager(riskConfig())
	if _, _, err := m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	later := t0.Add(time.Minute)
	_, _, err := m.Open(signal("AAA", model.DirShort, 100, 0.9, later), normal, later)
	if !errors.Is(err, model.ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
	if m.Count() != 1 {
		t.Fatalf("expected one position, got %d", m.Count())
	}
}

func TestOpenQuantityTooSmall(t *testing.T) {
	m := newManager(riskConfig())
	_, _, err := m.Open(signal("BRK", model.DirLong, 600000, 0.9, t0), normal, t0)
	if !errors.Is(err, model.ErrQuantityTooSmall) {
		t.Fatalf("expected ErrQuantityTooSmall, got %v", err)
	}
	if m.Count() != 0 {
		t.Fatalf("no position should be opened")
	}
	if !IsDecision(err) {
		t.Fatalf("quantity rejection should be a decision")
	}
}

func TestOpenCapacity(t *testing.T) {
	cfg := riskConfig()
	cfg.MaxPositions = 2
	m := newManager(cfg)
	for _, s := range []string{"AAA", "BBB"} {
		if _, _, err := m.Open(signal(s, model.DirLong, 100, 0.5, t0), normal, t0); err != nil {
			t.Fatalf("Open %s error: %v", s, err)
		}
	}
	_, _, err := m.Open(signal("CCC", model.DirLong, 100, 0.5, t0), normal, t0)
	if !errors.Is(err, model.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestOpenInvalidPrice(t *testing.T) {
	m := newManager(riskConfig())
	_, _, err := m.Open(signal("AAA", model.DirLong, 0, 0.5, t0), normal, t0)
	if !errors.Is(err, model.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestCooldownSuppressesReentry(t *testing.T) {
	m := newManager(riskConfig())
	if _, _, err := m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	closeAt := t0.Add(time.Minute)
	res := m.EvaluateExits(quote("AAA", 101, closeAt), normal, closeAt)
	if len(res.Closed) != 1 {
		t.Fatalf("expected take profit close")
	}

	if got := m.Eligible([]string{"AAA", "BBB"}, closeAt.Add(10*time.Second)); len(got) != 1 || got[0] != "BBB" {
		t.Fatalf("AAA should be cooling down, eligible=%v", got)
	}
	_, _, err := m.Open(signal("AAA", model.DirLong, 100, 0.5, closeAt.Add(10*time.Second)), normal, closeAt.Add(10*time.Second))
	if !errors.Is(err, model.ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}

	after := closeAt.Add(31 * time.Second)
	if got := m.Eligible([]string{"AAA"}, after); len(got) != 1 {
		t.Fatalf("AAA should be eligible after cooldown")
	}
}

func TestRejectedSignalStillStampsCooldown(t *testing.T) {
	cfg := riskConfig()
	cfg.MaxPositions = 1
	m := newManager(cfg)
	_, _, _ = m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0)

	if _, _, err := m.Open(signal("BBB", model.DirLong, 100, 0.5, t0), normal, t0); !errors.Is(err, model.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if got := m.Eligible([]string{"BBB"}, t0.Add(5*time.Second)); len(got) != 0 {
		t.Fatalf("BBB should be cooling down after its signal")
	}
}

func TestExitRulesLong(t *testing.T) {
	cases := []struct {
		price  float64
		closed bool
		reason model.ExitReason
	}{
		{100.85, true, model.ExitTakeProfit},
		{99.49, true, model.ExitStopLoss},
		{100.30, false, ""},
	}
	for _, c := range cases {
		m := newManager(riskConfig())
		if _, _, err := m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0); err != nil {
			t.Fatalf("Open error: %v", err)
		}
		at := t0.Add(time.Minute)
		res := m.EvaluateExits(quote("AAA", c.price, at), normal, at)
		if c.closed != (len(res.Closed) == 1) {
			t.Fatalf("price %.2f: closed=%v, want %v", c.price, len(res.Closed) == 1, c.closed)
		}
		if c.closed {
			if res.Closed[0].ExitReason != c.reason {
				t.Fatalf("price %.2f: reason %s, want %s", c.price, res.Closed[0].ExitReason, c.reason)
			}
			if len(res.Intents) != 1 || res.Intents[0].Kind != model.IntentClose {
				t.Fatalf("expected close intent")
			}
			if m.Count() != 0 {
				t.Fatalf("position should be removed after close")
			}
		}
	}
}

func TestExitShortPnL(t *testing.T) {
	cfg := riskConfig()
	cfg.PositionSizeFraction = 1
	cfg.NotionalBudget = 5000
	m := newManager(cfg)

	// 5000 × 1 × 1.0 / 50 = 100 股
	if _, _, err := m.Open(signal("BBB", model.DirShort, 50, 1.0, t0), normal, t0); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	at := t0.Add(2 * time.Minute)
	res := m.EvaluateExits(quote("BBB", 49, at), normal, at)
	if len(res.Closed) != 1 {
		t.Fatalf("expected close")
	}
	trade := res.Closed[0]
	if trade.ExitReason != model.ExitTakeProfit {
		t.Fatalf("expected take profit, got %s", trade.ExitReason)
	}
	if math.Abs(trade.PnL-100) > 1e-9 {
		t.Fatalf("expected pnl 100, got %f", trade.PnL)
	}
	if trade.Duration != 2*time.Minute {
		t.Fatalf("unexpected duration %s", trade.Duration)
	}
	if s := m.Ledger().Summary(); s.Trades != 1 || s.Wins != 1 || math.Abs(s.RealizedPnL-100) > 1e-9 {
		t.Fatalf("unexpected ledger summary %+v", s)
	}
}

func TestExitPriorityTakeProfitOverTimeStop(t *testing.T) {
	m := newManager(riskConfig())
	_, _, _ = m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0)

	at := t0.Add(20 * time.Minute)
	res := m.EvaluateExits(quote("AAA", 101, at), normal, at)
	if len(res.Closed) != 1 || res.Closed[0].ExitReason != model.ExitTakeProfit {
		t.Fatalf("expected take profit to win over time stop: %+v", res.Closed)
	}
}

func TestTimeStop(t *testing.T) {
	m := newManager(riskConfig())
	_, _, _ = m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0)

	at := t0.Add(15 * time.Minute)
	if res := m.EvaluateExits(quote("AAA", 100.1, at), normal, at); len(res.Closed) != 0 {
		t.Fatalf("exactly max hold should not close")
	}
	at = at.Add(time.Second)
	res := m.EvaluateExits(quote("AAA", 100.1, at), normal, at)
	if len(res.Closed) != 1 || res.Closed[0].ExitReason != model.ExitTimeStop {
		t.Fatalf("expected time stop, got %+v", res.Closed)
	}
}

func TestExitUsesCurrentRegime(t *testing.T) {
	m := newManager(riskConfig())
	_, _, _ = m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0)

	low := model.VolatilityRegime{Level: model.RegimeLow, StopLossPct: 0.003, TakeProfitPct: 0.005}
	at := t0.Add(time.Minute)
	res := m.EvaluateExits(quote("AAA", 100.6, at), low, at)
	if len(res.Closed) != 1 || res.Closed[0].ExitReason != model.ExitTakeProfit {
		t.Fatalf("expected TP under the tighter current regime")
	}
}

func TestExitDeferredOnMissingOrStaleQuote(t *testing.T) {
	m := newManager(riskConfig())
	_, _, _ = m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0)
	_, _, _ = m.Open(signal("BBB", model.DirLong, 100, 0.5, t0), normal, t0)

	at := t0.Add(30 * time.Minute)
	quotes := map[string]model.Quote{
		"BBB": {Symbol: "BBB", Price: 90, Timestamp: at.Add(-10 * time.Minute)},
	}
	res := m.EvaluateExits(quotes, normal, at)
	if len(res.Closed) != 0 {
		t.Fatalf("nothing should close without fresh prices")
	}
	if len(res.Deferred) != 2 {
		t.Fatalf("expected both deferred, got %v", res.Deferred)
	}
	if m.Count() != 2 {
		t.Fatalf("positions must be kept")
	}
}

func TestReconcile(t *testing.T) {
	m := newManager(riskConfig())
	_, _, _ = m.Open(signal("AAA", model.DirLong, 100, 0.5, t0), normal, t0)
	_, _, _ = m.Open(signal("BBB", model.DirLong, 100, 0.5, t0), normal, t0)

	holdings := []model.Holding{
		{Symbol: "AAA", Direction: model.DirLong, Quantity: 5, AvgEntryPrice: 100},
		{Symbol: "ZZZ", Direction: model.DirShort, Quantity: 10, AvgEntryPrice: 20},
	}
	dropped, adopted := m.Reconcile(holdings, normal, t0.Add(time.Minute))
	if len(dropped) != 1 || dropped[0].Symbol != "BBB" {
		t.Fatalf("expected BBB dropped, got %+v", dropped)
	}
	if len(adopted) != 1 || adopted[0].Symbol != "ZZZ" || adopted[0].Rationale[0] != ReconciledTag {
		t.Fatalf("expected ZZZ adopted, got %+v", adopted)
	}
	if adopted[0].StopLossPrice <= 20 {
		t.Fatalf("adopted short SL should be above entry")
	}
	if m.Count() != 2 {
		t.Fatalf("expected 2 tracked positions, got %d", m.Count())
	}
	if len(m.Ledger().Trades()) != 0 {
		t.Fatalf("reconciliation must not write the ledger")
	}
}

func TestQuantityAndProtectivePrices(t *testing.T) {
	if q := Quantity(10000, 0.1, 0.5, 333); q != 1 {
		t.Fatalf("expected floor to 1, got %d", q)
	}
	if q := Quantity(10000, 0.1, 0.5, 0); q != 0 {
		t.Fatalf("zero entry should size to 0")
	}
	sl, tp := ProtectivePrices(model.DirShort, 200, 0.01, 0.02)
	if math.Abs(sl-202) > 1e-9 || math.Abs(tp-196) > 1e-9 {
		t.Fatalf("unexpected short prices %f/%f", sl, tp)
	}
}
