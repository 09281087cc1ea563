package model

import "time"

type EventKind string

const (
	EventSignal         EventKind = "signal"
	EventPositionOpened EventKind = "position_opened"
	EventPositionClosed EventKind = "position_closed"
	EventRegime         EventKind = "regime"
	EventCycleSummary   EventKind = "cycle_summary"
)

// Event 交给上报通道 (日志、Kafka、数据库、WebSocket) 的消息
type Event struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	Symbol  string    `json:"symbol,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// CycleSummary 每个扫描周期结束时的统计
type CycleSummary struct {
	Cycle         uint64        `json:"cycle"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Scanned       int           `json:"scanned"`
	FetchErrors   int           `json:"fetch_errors"`
	Signals       int           `json:"signals"`
	Opened        int           `json:"opened"`
	Closed        int           `json:"closed"`
	Deferred      int           `json:"deferred"`
	OpenPositions int           `json:"open_positions"`
	Regime        RegimeLevel   `json:"regime"`
	Skipped       bool          `json:"skipped,omitempty"` // 非交易时段
}
