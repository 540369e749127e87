package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/support-dispatch/internal/config"
)

// LoggerOption adjusts the zap config before it is built.
type LoggerOption func(*zap.Config)

// WriteTo replaces the output paths, e.g. "stderr" for CLIs whose stdout
// carries the report.
func WriteTo(paths ...string) LoggerOption {
	return func(c *zap.Config) { c.OutputPaths = paths }
}

// NewLogger builds the service logger. Every entry carries the service
// name, version and environment.
func NewLogger(app config.AppConfig, cfg config.LoggerConfig, opts ...LoggerOption) (*zap.Logger, error) {
	zapCfg := loggerConfig(app, cfg)
	for _, opt := range opts {
		opt(&zapCfg)
	}
	return zapCfg.Build()
}

func loggerConfig(app config.AppConfig, cfg config.LoggerConfig) zap.Config {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	fields := map[string]interface{}{"service": app.Name}
	if app.Version != "" {
		fields["version"] = app.Version
	}
	if app.Env != "" {
		fields["env"] = app.Env
	}

	return zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: isDevelopment(app.Env),
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			LevelKey:      "level",
			TimeKey:       "ts",
			NameKey:       "logger",
			StacktraceKey: "stacktrace",
			EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(l.String())
			},
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeName:     zapcore.FullNameEncoder,
		},
		InitialFields:    fields,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

func isDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}
