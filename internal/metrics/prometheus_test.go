package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordCycle(2 * time.Second)
	r.RecordCycle(time.Second)
	r.RecordFetchError("bars")
	r.RecordSignal("LONG")
	r.RecordSignal("LONG")
	r.RecordClose("STOP_LOSS")
	r.SetOpenPositions(3)
	r.SetRegime(2)

	if got := testutil.ToFloat64(r.cycles); got != 2 {
		t.Fatalf("expected 2 cycles, got %f", got)
	}
	if got := testutil.ToFloat64(r.signals.WithLabelValues("LONG")); got != 2 {
		t.Fatalf("expected 2 long signals, got %f", got)
	}
	if got := testutil.ToFloat64(r.closes.WithLabelValues("STOP_LOSS")); got != 1 {
		t.Fatalf("expected 1 stop loss, got %f", got)
	}
	if got := testutil.ToFloat64(r.openPositions); got != 3 {
		t.Fatalf("expected gauge 3, got %f", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("nothing registered")
	}
}

func TestRecorderSeparateRegistries(t *testing.T) {
	// 每个 registry 独立注册，不会 panic
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
