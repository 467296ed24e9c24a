// Package observability provides the shared CLI logger.
package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger. It is a nop until InitCLILogger
// runs so packages can log unconditionally.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger. Unknown levels fall back to info.
// With structured=false output is console-encoded for interactive use;
// structured=true emits JSON lines for log shippers.
func InitCLILogger(level string, structured bool) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "console",
		EncoderConfig:    encCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if structured {
		cfg.Encoding = "json"
	}

	logger, err := cfg.Build()
	if err != nil {
		// Logging must never take the CLI down.
		CLILogger = zap.NewNop()
		return
	}
	CLILogger = logger
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = CLILogger.Sync()
}
