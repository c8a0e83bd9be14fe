package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elskow/portal/internal/config"
)

// NewLogger builds the console logger for env: human-readable in
// development and testing, JSON otherwise.
func NewLogger(env string) (*zap.Logger, error) {
	switch env {
	case EnvDevelopment, EnvTesting:
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}

// NewAppLogger applies log.level and, when log.file_path is set, tees the
// console output into a time-rotated JSON file.
func NewAppLogger(env string, cfg config.LogConfig) (*zap.Logger, error) {
	base, err := NewLogger(env)
	if err != nil {
		return nil, err
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		// IncreaseLevel only raises; a lower level keeps the env default
		if base.Core().Enabled(level - 1) {
			base = base.WithOptions(zap.IncreaseLevel(level))
		}
	}

	if cfg.FilePath == "" {
		return base, nil
	}

	writer, err := newRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	fileCore := zapcore.NewCore(encoder, zapcore.AddSync(writer), level)

	return base.WithOptions(
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}),
	), nil
}

func newRotatingWriter(cfg config.LogConfig) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	rotation := cfg.RotationTime
	if rotation <= 0 {
		rotation = 24 * time.Hour
	}

	return rotatelogs.New(
		cfg.FilePath+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(cfg.FilePath),
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(rotation),
	)
}
