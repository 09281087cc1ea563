package events

import (
	"context"

	"go.uber.org/zap"

	"intraday-trader/internal/model"
)

// LogSink 把事件写入结构化日志
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, e model.Event) error {
	s.logger.Info("Event",
		zap.String("Kind", string(e.Kind)),
		zap.String("Symbol", e.Symbol),
		zap.String("ID", e.ID),
		zap.Any("Payload", e.Payload),
	)
	return nil
}
