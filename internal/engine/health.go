package engine

import (
	"sync/atomic"

	"intraday-trader/internal/model"
)

// Health 连续失败计数：整个周期所有请求都失败才算一次失败，任意成功即清零
type Health struct {
	threshold int64
	failures  atomic.Int64
	last      atomic.Pointer[model.CycleSummary]
}

func NewHealth(unhealthyAfter int) *Health {
	if unhealthyAfter < 1 {
		unhealthyAfter = 1
	}
	return &Health{threshold: int64(unhealthyAfter)}
}

func (h *Health) Healthy() bool {
	return h.failures.Load() < h.threshold
}

func (h *Health) ConsecutiveFailures() int {
	return int(h.failures.Load())
}

// LastSummary 最近一个完成的周期
func (h *Health) LastSummary() (model.CycleSummary, bool) {
	s := h.last.Load()
	if s == nil {
		return model.CycleSummary{}, false
	}
	return *s, true
}

// observe 没有任何请求的周期 (无持仓且无可选标的) 不改变计数
func (h *Health) observe(s model.CycleSummary, attempts int) {
	h.last.Store(&s)
	if attempts == 0 {
		return
	}
	if s.FetchErrors >= attempts {
		h.failures.Add(1)
		return
	}
	h.failures.Store(0)
}
