package service

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 是全局日志接口
// 在其他模块中使用：service.Logger.Info("Bucket closed", zap.String("Symbol", symbol))
var Logger = zap.NewNop()

// InitLogger 初始化 Zap 日志，level 为空时使用 info
func InitLogger(level string) {
	config := zap.NewProductionConfig()

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			log.Fatalf("Invalid log level %q: %v", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	var err error
	Logger, err = config.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}
