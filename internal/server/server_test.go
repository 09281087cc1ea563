package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"intraday-trader/internal/metrics"
	"intraday-trader/internal/model"
	"intraday-trader/internal/position"
	"intraday-trader/internal/service"
)

type fakeStatus struct {
	healthy  bool
	failures int
}

func (f fakeStatus) Healthy() bool            { return f.healthy }
func (f fakeStatus) ConsecutiveFailures() int { return f.failures }
func (f fakeStatus) LastSummary() (model.CycleSummary, bool) {
	return model.CycleSummary{Cycle: 7}, true
}

type fixedRegime struct{ r model.VolatilityRegime }

func (f fixedRegime) Current() model.VolatilityRegime { return f.r }

func newServer(t *testing.T, status fakeStatus) *Server {
	t.Helper()
	risk := service.RiskConfig{NotionalBudget: 10000, PositionSizeFraction: 0.1, MaxPositions: 5, MaxHoldDuration: 15 * time.Minute}
	m := position.NewManager(risk, time.Minute, position.NewLedger(), zap.NewNop())
	regime := model.VolatilityRegime{Level: model.RegimeHigh, ConfidenceThreshold: 0.55, StopLossPct: 0.008, TakeProfitPct: 0.012}
	now := time.Now()
	if _, _, err := m.Open(model.Signal{Symbol: "AAPL", Direction: model.DirLong, EntryPrice: 100, Confidence: 1, GeneratedAt: now}, regime, now); err != nil {
		t.Fatalf("open: %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics.New(reg).RecordOpen()

	return New(":0", Deps{
		Status:    status,
		Positions: m,
		Regime:    fixedRegime{regime},
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, zap.NewNop())
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(newServer(t, fakeStatus{healthy: true}), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.LastCycle == nil || body.LastCycle.Cycle != 7 {
		t.Fatalf("unexpected body %+v", body)
	}

	rec = get(newServer(t, fakeStatus{healthy: false, failures: 3}), "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"consecutive_failures":3`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestStatusEndpoints(t *testing.T) {
	s := newServer(t, fakeStatus{healthy: true})

	rec := get(s, "/api/positions")
	var positions []model.Position
	if err := json.Unmarshal(rec.Body.Bytes(), &positions); err != nil || len(positions) != 1 {
		t.Fatalf("unexpected positions %s (%v)", rec.Body.String(), err)
	}
	if positions[0].Symbol != "AAPL" || positions[0].Quantity != 10 {
		t.Fatalf("unexpected position %+v", positions[0])
	}

	rec = get(s, "/api/ledger")
	var ledger ledgerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if ledger.Summary.Trades != 0 || len(ledger.Trades) != 0 {
		t.Fatalf("unexpected ledger %+v", ledger)
	}

	rec = get(s, "/api/regime")
	var regime model.VolatilityRegime
	if err := json.Unmarshal(rec.Body.Bytes(), &regime); err != nil || regime.Level != model.RegimeHigh {
		t.Fatalf("unexpected regime %s (%v)", rec.Body.String(), err)
	}

	rec = get(s, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "intraday_positions_opened_total 1") {
		t.Fatalf("metrics not exposed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestStop(t *testing.T) {
	s := newServer(t, fakeStatus{healthy: true})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
}
