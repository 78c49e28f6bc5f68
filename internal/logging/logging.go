// Package logging builds the service's zap logger
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "2006-01-02 15:04:05.000"

// Options configures the logger
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	File   string // optional rotating log file, written in addition to stdout

	MaxSizeMB  int // per file, default 100
	MaxBackups int
	MaxAgeDays int // default 7
	Compress   bool
}

// New builds a logger writing to stdout and, when File is set, to a
// rotating file.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	enc := encoder(opts.Format)
	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level),
	}

	if opts.File != "" {
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(rotatingFile(opts)), level))
	}

	return build(zapcore.NewTee(cores...), level), nil
}

// NewWithWriter builds a logger writing only to w
func NewWithWriter(opts Options, w io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder(opts.Format), zapcore.AddSync(w), level)
	return build(core, level), nil
}

// ParseLevel maps a level name onto a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func build(core zapcore.Core, level zapcore.Level) *zap.Logger {
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.DPanicLevel)}
	if level == zap.DebugLevel {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...)
}

func rotatingFile(opts Options) *lumberjack.Logger {
	maxSize := opts.MaxSizeMB
	if maxSize == 0 {
		maxSize = 100
	}
	maxAge := opts.MaxAgeDays
	if maxAge == 0 {
		maxAge = 7
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     maxAge,
		Compress:   opts.Compress,
	}
}

func encoder(format string) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeFormat),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "console" {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}
