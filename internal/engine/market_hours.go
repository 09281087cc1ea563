package engine

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"intraday-trader/internal/service"
)

// marketHours 常规交易时段 (工作日)，节假日不处理
type marketHours struct {
	loc   *time.Location
	open  time.Duration
	close time.Duration
}

func newMarketHours(cfg service.MarketHoursConfig) (*marketHours, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("market hours timezone %q: %w", cfg.Timezone, err)
	}
	open, err := service.ParseClock(cfg.Open)
	if err != nil {
		return nil, err
	}
	closeAt, err := service.ParseClock(cfg.Close)
	if err != nil {
		return nil, err
	}
	if closeAt <= open {
		return nil, fmt.Errorf("market hours: close %s not after open %s", cfg.Close, cfg.Open)
	}
	return &marketHours{loc: loc, open: open, close: closeAt}, nil
}

func (m *marketHours) IsOpen(t time.Time) bool {
	local := t.In(m.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	clock := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	return clock >= m.open && clock < m.close
}
