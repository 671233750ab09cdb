package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	Level   string
	Pretty  bool
	Service string
	Env     string
	Version string
}

// NewLogger builds the process logger and installs it as the zap global.
// An unknown level falls back to info.
func NewLogger(c *LogConfig) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if c.Pretty {
		cfg = zap.NewDevelopmentConfig()
	}

	level, levelErr := zapcore.ParseLevel(c.Level)
	if levelErr != nil {
		level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	// no sampling: one tick can fail many targets with the same message
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	fields := map[string]any{"service": c.Service}
	if c.Env != "" {
		fields["env"] = c.Env
	}
	if c.Version != "" {
		fields["version"] = c.Version
	}
	cfg.InitialFields = fields

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if levelErr != nil {
		l.Warn("unknown log level, using info", zap.String("level", c.Level))
	}
	zap.ReplaceGlobals(l)
	return l, nil
}

// Component tags a logger with the subsystem it belongs to.
func Component(l *zap.Logger, name string) *zap.Logger {
	return l.With(zap.String("component", name))
}
