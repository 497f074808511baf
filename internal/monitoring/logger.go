package monitoring

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects level, encoding and sinks for NewLogger. Output is one
// of "file", "console" or "both"; console output goes to stderr so stdout
// stays free for command results.
type LogConfig struct {
	Level      string
	Format     string
	Output     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultLogConfig writes JSON to a rotated file under dataDir/logs.
func DefaultLogConfig(dataDir string) *LogConfig {
	return &LogConfig{
		Level:      "info",
		Format:     "json",
		Output:     "file",
		FilePath:   filepath.Join(dataDir, "logs", "tunevault.log"),
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// NewLogger builds a zap logger from cfg.
func NewLogger(cfg *LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	sink, err := openSinks(cfg)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(newEncoder(cfg), sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func newEncoder(cfg *LogConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder

	if cfg.Format != "console" {
		return zapcore.NewJSONEncoder(ec)
	}
	if cfg.Output == "console" && isatty.IsTerminal(os.Stderr.Fd()) {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(ec)
}

func openSinks(cfg *LogConfig) (zapcore.WriteSyncer, error) {
	toFile := cfg.Output == "file" || cfg.Output == "both"
	toConsole := cfg.Output == "console" || cfg.Output == "both"
	if !toFile && !toConsole {
		return nil, fmt.Errorf("invalid log output: %q", cfg.Output)
	}

	var sinks []zapcore.WriteSyncer
	if toFile {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}))
	}
	if toConsole {
		sinks = append(sinks, zapcore.Lock(os.Stderr))
	}
	return zapcore.NewMultiWriteSyncer(sinks...), nil
}

// LoggerWithContext adds context fields to a logger
func LoggerWithContext(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(fields...)
}

// LoggerForJob scopes a logger to one queue job.
func LoggerForJob(logger *zap.Logger, ownerID, jobID string) *zap.Logger {
	return LoggerWithContext(logger,
		zap.String("owner_id", ownerID),
		zap.String("job_id", jobID),
	)
}
