package logger

import (
	"fmt"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pal-backend/internal/config"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// Init builds the process logger from configuration. Console output uses the
// development encoder; a configured log file gets JSON lines with rotation.
func Init(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var core zapcore.Core
	if cfg.LogFile != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		core = zapcore.NewCore(encoder, zapcore.AddSync(writer), level)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level)
	}

	l := zap.New(core, zap.AddCaller()).With(zap.String("service", "pal-backend"))
	Set(l)
	return l, nil
}

// L returns the process logger. It is a no-op logger until Init or Set is called.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Set replaces the process logger. Tests use it with zaptest or observer loggers.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}
