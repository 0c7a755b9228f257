// Package observability owns process-wide logging setup.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the shared structured logger. It defaults to a no-op logger
// so packages can log before Init runs (and so tests stay quiet).
var CLILogger = zap.NewNop()

// Init configures CLILogger. Level is one of debug|info|warn|error.
// CLI invocations use the console profile; serve uses structured JSON.
func Init(level string, structured bool) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	var cfg zap.Config
	if structured {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	// Logs go to stderr so command output (tables, JSON) stays parseable.
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	CLILogger = logger
	return nil
}

// Sync flushes buffered log entries. Safe to call at process exit.
func Sync() {
	_ = CLILogger.Sync()
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}
