package executor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"intraday-trader/internal/model"
)

func intent(kind model.IntentKind, symbol string, dir model.Direction, qty int64, price float64) model.Intent {
	return model.Intent{ID: "i-" + symbol + string(kind), Kind: kind, Symbol: symbol, Direction: dir, Quantity: qty, Price: price}
}

func TestIsBuy(t *testing.T) {
	cases := []struct {
		kind model.IntentKind
		dir  model.Direction
		buy  bool
	}{
		{model.IntentOpen, model.DirLong, true},
		{model.IntentClose, model.DirLong, false},
		{model.IntentOpen, model.DirShort, false},
		{model.IntentClose, model.DirShort, true},
	}
	for _, c := range cases {
		if got := isBuy(model.Intent{Kind: c.kind, Direction: c.dir}); got != c.buy {
			t.Errorf("%s %s: buy=%v, want %v", c.kind, c.dir, got, c.buy)
		}
	}
}

func TestSimulatorRoundTrip(t *testing.T) {
	sim := NewSimulatorExecutor(SimulatorConfig{InitialCapital: 10000}, zap.NewNop())
	ctx := context.Background()

	if err := sim.Submit(ctx, intent(model.IntentOpen, "AAA", model.DirLong, 10, 100)); err != nil {
		t.Fatalf("open long: %v", err)
	}
	if err := sim.Submit(ctx, intent(model.IntentOpen, "BBB", model.DirShort, 100, 50)); err != nil {
		t.Fatalf("open short: %v", err)
	}

	holdings, _ := sim.Holdings(ctx)
	if len(holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(holdings))
	}

	sim.Mark(map[string]model.Quote{"AAA": {Price: 101}, "BBB": {Price: 49}})
	eq, _ := sim.Equity(ctx)
	// 10000 - 1000 + 5000 + 10×101 - 100×49
	if math.Abs(eq-10110) > 1e-9 {
		t.Fatalf("expected equity 10110, got %f", eq)
	}

	if err := sim.Submit(ctx, intent(model.IntentClose, "AAA", model.DirLong, 10, 101)); err != nil {
		t.Fatalf("close long: %v", err)
	}
	if err := sim.Submit(ctx, intent(model.IntentClose, "BBB", model.DirShort, 100, 49)); err != nil {
		t.Fatalf("close short: %v", err)
	}
	eq, _ = sim.Equity(ctx)
	if math.Abs(eq-10110) > 1e-9 {
		t.Fatalf("expected flat equity 10110, got %f", eq)
	}
	if sim.MaxEquity() < 10110-1e-9 {
		t.Fatalf("max equity not tracked: %f", sim.MaxEquity())
	}
	if len(sim.Fills()) != 4 {
		t.Fatalf("expected 4 fills")
	}
}

func TestSimulatorRejects(t *testing.T) {
	sim := NewSimulatorExecutor(SimulatorConfig{InitialCapital: 10000}, zap.NewNop())
	ctx := context.Background()

	if err := sim.Submit(ctx, intent(model.IntentClose, "AAA", model.DirLong, 10, 100)); err == nil {
		t.Fatalf("closing unknown holding should fail")
	}
	if err := sim.Submit(ctx, intent(model.IntentOpen, "AAA", model.DirLong, 0, 100)); err == nil {
		t.Fatalf("zero quantity should fail")
	}
	_ = sim.Submit(ctx, intent(model.IntentOpen, "AAA", model.DirLong, 10, 100))
	if err := sim.Submit(ctx, intent(model.IntentOpen, "AAA", model.DirLong, 10, 100)); err == nil {
		t.Fatalf("duplicate open should fail")
	}
}

type fakeTrading struct {
	orders    []alpaca.PlaceOrderRequest
	positions []alpaca.Position
	equity    decimal.Decimal
	err       error
}

func (f *fakeTrading) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.orders = append(f.orders, req)
	return &alpaca.Order{ID: "ord-1"}, nil
}

func (f *fakeTrading) GetPositions() ([]alpaca.Position, error) {
	return f.positions, f.err
}

func (f *fakeTrading) GetAccount() (*alpaca.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &alpaca.Account{Equity: f.equity}, nil
}

func TestAlpacaSubmitMapsSide(t *testing.T) {
	fake := &fakeTrading{}
	ex := newAlpacaExecutor(fake, zap.NewNop())
	ctx := context.Background()

	if err := ex.Submit(ctx, intent(model.IntentOpen, "AAA", model.DirShort, 7, 10)); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if err := ex.Submit(ctx, intent(model.IntentClose, "AAA", model.DirShort, 7, 9)); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if len(fake.orders) != 2 {
		t.Fatalf("expected 2 orders")
	}
	if fake.orders[0].Side != alpaca.Sell || fake.orders[1].Side != alpaca.Buy {
		t.Fatalf("unexpected sides %s/%s", fake.orders[0].Side, fake.orders[1].Side)
	}
	if !fake.orders[0].Qty.Equal(decimal.NewFromInt(7)) || fake.orders[0].Type != alpaca.Market {
		t.Fatalf("unexpected order %+v", fake.orders[0])
	}
}

func TestAlpacaSubmitError(t *testing.T) {
	boom := errors.New("boom")
	ex := newAlpacaExecutor(&fakeTrading{err: boom}, zap.NewNop())
	if err := ex.Submit(context.Background(), intent(model.IntentOpen, "AAA", model.DirLong, 1, 10)); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestAlpacaHoldingsAndEquity(t *testing.T) {
	fake := &fakeTrading{
		positions: []alpaca.Position{
			{Symbol: "AAA", Qty: decimal.NewFromInt(10), AvgEntryPrice: decimal.NewFromFloat(101.5), Side: "long"},
			{Symbol: "BBB", Qty: decimal.NewFromInt(-20), AvgEntryPrice: decimal.NewFromFloat(40), Side: "short"},
		},
		equity: decimal.NewFromFloat(25000.5),
	}
	ex := newAlpacaExecutor(fake, zap.NewNop())

	holdings, err := ex.Holdings(context.Background())
	if err != nil {
		t.Fatalf("Holdings error: %v", err)
	}
	if len(holdings) != 2 {
		t.Fatalf("expected 2 holdings")
	}
	if holdings[0].Direction != model.DirLong || holdings[0].Quantity != 10 || holdings[0].AvgEntryPrice != 101.5 {
		t.Fatalf("unexpected long holding %+v", holdings[0])
	}
	if holdings[1].Direction != model.DirShort || holdings[1].Quantity != 20 {
		t.Fatalf("unexpected short holding %+v", holdings[1])
	}

	eq, err := ex.Equity(context.Background())
	if err != nil || eq != 25000.5 {
		t.Fatalf("unexpected equity %f err %v", eq, err)
	}
}
