package logging

import (
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelKey      = "log-level"
	FileKey       = "log-file"
	MaxSizeKey    = "log-max-size"
	MaxBackupsKey = "log-max-backups"
	MaxAgeKey     = "log-max-age"

	DefaultMaxSize    = 10
	DefaultMaxBackups = 3
	DefaultMaxAge     = 28
)

// NewLogger creates a zap.Logger honoring the log-level configured via Viper.
// When log-file is set, entries are also written as JSON to a rotated file.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	levelStr := viper.GetString(LevelKey)
	if levelStr != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(levelStr)); err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logFile := viper.GetString(FileKey)
	if logFile == "" {
		return cfg.Build()
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.AddSync(newRotatingWriter(logFile)),
		cfg.Level,
	)
	return cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}

func newRotatingWriter(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(viper.GetInt(MaxSizeKey), DefaultMaxSize),
		MaxBackups: positiveOr(viper.GetInt(MaxBackupsKey), DefaultMaxBackups),
		MaxAge:     positiveOr(viper.GetInt(MaxAgeKey), DefaultMaxAge),
	}
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
