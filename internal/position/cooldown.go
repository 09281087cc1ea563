package position

import "time"

// CooldownRegistry 记录每个标的最近一次信号或平仓的时间
// 不加锁，由 Manager 的互斥锁保护
type CooldownRegistry struct {
	window time.Duration
	last   map[string]time.Time
}

func NewCooldownRegistry(window time.Duration) *CooldownRegistry {
	return &CooldownRegistry{window: window, last: make(map[string]time.Time)}
}

func (c *CooldownRegistry) Stamp(symbol string, at time.Time) {
	if prev, ok := c.last[symbol]; ok && prev.After(at) {
		return
	}
	c.last[symbol] = at
}

// Active 距离上次记录不足 window 时返回 true
func (c *CooldownRegistry) Active(symbol string, now time.Time) bool {
	at, ok := c.last[symbol]
	if !ok {
		return false
	}
	return now.Sub(at) < c.window
}

// Remaining 剩余冷却时间，不在冷却中返回 0
func (c *CooldownRegistry) Remaining(symbol string, now time.Time) time.Duration {
	at, ok := c.last[symbol]
	if !ok {
		return 0
	}
	if left := c.window - now.Sub(at); left > 0 {
		return left
	}
	return 0
}
