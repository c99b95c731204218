// Package applog provides the server's structured logger: a zap core
// writing either to stdout or to a lumberjack-rotated file, exposing the
// Debugf/Infof/Warnf/Errorf surface internal/gateway.Logger expects.
package applog

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Options configures a Logger. Unpack-able by serverconfig's go-ucfg
// loader so log settings can live alongside the rest of the server's YAML
// config.
type Options struct {
	Stdout     bool   `config:"stdout"`
	Level      string `config:"level"`
	Filename   string `config:"filename"`
	MaxSize    int    `config:"maxSize"` // megabytes
	MaxAge     int    `config:"maxAge"`  // days
	MaxBackups int    `config:"maxBackups"`
}

// Logger wraps a zap.SugaredLogger, satisfying internal/gateway.Logger.
type Logger struct {
	sugared *zap.SugaredLogger
}

func (l Logger) Debugf(template string, args ...any) { l.sugared.Debugf(template, args...) }
func (l Logger) Infof(template string, args ...any)  { l.sugared.Infof(template, args...) }
func (l Logger) Warnf(template string, args ...any)  { l.sugared.Warnf(template, args...) }
func (l Logger) Errorf(template string, args ...any) { l.sugared.Errorf(template, args...) }

// New builds a Logger from opt.
func New(opt Options) (Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var w zapcore.WriteSyncer
	if opt.Stdout || opt.Filename == "" {
		w = zapcore.AddSync(os.Stdout)
	} else {
		if err := os.MkdirAll(filepath.Dir(opt.Filename), 0o755); err != nil {
			return Logger{}, err
		}
		w = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    opt.MaxSize,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAge,
			LocalTime:  true,
		})
	}

	level := toZapLevel(Level(strings.ToLower(strings.TrimSpace(opt.Level))))
	core := zapcore.NewCore(encoder, w, level)
	return Logger{sugared: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()}, nil
}

// NewDefault returns a stdout logger at info level, used until config has
// loaded or by callers that don't care about configurability.
func NewDefault() Logger {
	l, _ := New(Options{Stdout: true, Level: string(LevelInfo)})
	return l
}

// std is the package-level logger, stdout/info until SetOptions swaps it.
var std = NewDefault()

// SetOptions rebuilds the package-level logger, called once the CLI has
// resolved its configuration.
func SetOptions(opt Options) error {
	l, err := New(opt)
	if err != nil {
		return err
	}
	std = l
	return nil
}

// Std returns the current package-level logger.
func Std() Logger { return std }

func Debugf(template string, args ...any) { std.Debugf(template, args...) }
func Infof(template string, args ...any)  { std.Infof(template, args...) }
func Warnf(template string, args ...any)  { std.Warnf(template, args...) }
func Errorf(template string, args ...any) { std.Errorf(template, args...) }
