// Package logging builds the module's real logging backend — zap for
// structured, leveled output and lumberjack for rotation — and installs it
// behind contrib/log's facade, matching the teacher's own logging stack
// (conf.Logger{Level,Path,Caller,TraceID,MaxSize,MaxAge,MaxBackups,Compress,
// NoPid}) and server/mod/accesslog.go's field-buffer access-log pattern.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vtuber-plan/olah/contrib/log"
)

// Config mirrors the teacher's conf.Logger block; internal/config decodes
// its "logger" section straight into it.
type Config struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	Caller     bool   `yaml:"caller"`
	TraceID    bool   `yaml:"traceid"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
	NoPid      bool   `yaml:"nopid"`
}

func levelFrom(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// zapLogger adapts *zap.SugaredLogger to contrib/log.Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (z *zapLogger) Log(level log.Level, keyvals ...interface{}) error {
	switch level {
	case log.LevelDebug:
		z.sugar.Debugw("", keyvals...)
	case log.LevelInfo:
		z.sugar.Infow("", keyvals...)
	case log.LevelWarn:
		z.sugar.Warnw("", keyvals...)
	case log.LevelError:
		z.sugar.Errorw("", keyvals...)
	case log.LevelFatal:
		z.sugar.Fatalw("", keyvals...)
	default:
		z.sugar.Infow("", keyvals...)
	}
	return nil
}

// New builds a zap-backed log.Logger from cfg. An empty Path logs to
// stderr only; a non-empty Path adds a rotated file sink via lumberjack
// alongside stderr.
func New(cfg Config) log.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if cfg.Path != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    nonZero(cfg.MaxSize, 100),
			MaxAge:     nonZero(cfg.MaxAge, 7),
			MaxBackups: nonZero(cfg.MaxBackups, 5),
			Compress:   cfg.Compress,
		}))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.NewMultiWriteSyncer(writers...),
		levelFrom(cfg.Level),
	)

	zapOpts := []zap.Option{}
	if cfg.Caller {
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	logger := zap.New(core, zapOpts...)
	fields := make([]interface{}, 0, 2)
	if !cfg.NoPid {
		fields = append(fields, "pid", os.Getpid())
	}

	var l log.Logger = &zapLogger{sugar: logger.Sugar()}
	if len(fields) > 0 {
		l = log.With(l, fields...)
	}
	return l
}

// Install builds a logger from cfg and installs it as the package-wide
// default every other package logs through via contrib/log.
func Install(cfg Config) {
	log.SetLogger(New(cfg))
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
