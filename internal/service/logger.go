package service

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 是全局日志接口，只在 main 中使用
// 其他组件在构造时注入 *zap.Logger：NewX(cfg, service.Logger.Named("x"))
var Logger = zap.NewNop()

// InitLogger 初始化高性能的 Zap 日志
func InitLogger(level string) {
	config := zap.NewProductionConfig()

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		log.Printf("Unknown log level %q, falling back to info", level)
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	Logger, err = config.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}
