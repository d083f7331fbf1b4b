// Package log is a small leveled, key-value logging facade backed by zap.
// Callers pass alternating key/value pairs after the message:
//
//	log.Info("fetch success", "calendar", name, "from_cache", true)
//	log.Error("fetch failed", err, "calendar", name)
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.Mutex
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugared *zap.SugaredLogger
)

func logger() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if sugared == nil {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		// Skip the facade frames so call sites are reported as the caller.
		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			l = zap.NewNop()
		}
		sugared = l.Sugar()
	}
	return sugared
}

// SetLevel adjusts the minimum level. Recognized: "debug", "info", "error".
// Unknown values leave the level at its default (info).
func SetLevel(s string) {
	switch s {
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "info":
		level.SetLevel(zapcore.InfoLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	}
}

func Debug(msg string, kv ...any) {
	logger().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	logger().Infow(msg, kv...)
}

// Error logs msg with err prepended to the key-value list.
func Error(msg string, err error, kv ...any) {
	logger().Errorw(msg, append([]any{"err", err}, kv...)...)
}

// Sync flushes buffered log entries. Intended for use on shutdown.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if sugared != nil {
		_ = sugared.Sync()
	}
}
