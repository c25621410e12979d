// Package logger provides level-based logging (debug, info, warn, error).
package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log sinks. The zero value logs to stderr at info.
type Options struct {
	Level      string
	File       string // empty = stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	JSON       bool
}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar  = newSugar(zapcore.Lock(os.Stderr), false)
	rotate *lumberjack.Logger
)

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func newSugar(ws zapcore.WriteSyncer, asJSON bool) *zap.SugaredLogger {
	var enc zapcore.Encoder
	if asJSON {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig())
	}
	return zap.New(zapcore.NewCore(enc, ws, level)).Sugar()
}

// Init installs the sinks described by opts. Safe to call again on reload.
func Init(opts Options) {
	level.SetLevel(parseLevel(opts.Level))
	ws := zapcore.Lock(os.Stderr)
	var lj *lumberjack.Logger
	if opts.File != "" {
		lj = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		ws = zapcore.NewMultiWriteSyncer(ws, zapcore.AddSync(lj))
	}
	s := newSugar(ws, opts.JSON)

	mu.Lock()
	old := rotate
	sugar, rotate = s, lj
	mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// SetLevel sets the minimum level to log. Default is info.
func SetLevel(s string) {
	level.SetLevel(parseLevel(s))
}

// Level returns the current minimum level name.
func Level() string {
	return level.Level().String()
}

// Sync flushes buffered entries and closes the rotating file, if any.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	_ = sugar.Sync()
	if rotate != nil {
		err := rotate.Close()
		rotate = nil
		return err
	}
	return nil
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debug logs if level is debug or lower.
func Debug(format string, v ...interface{}) {
	if level.Enabled(zapcore.DebugLevel) {
		get().Debug(fmt.Sprintf(format, v...))
	}
}

// Info logs if level is info or lower.
func Info(format string, v ...interface{}) {
	if level.Enabled(zapcore.InfoLevel) {
		get().Info(fmt.Sprintf(format, v...))
	}
}

// Warn logs if level is warn or lower.
func Warn(format string, v ...interface{}) {
	if level.Enabled(zapcore.WarnLevel) {
		get().Warn(fmt.Sprintf(format, v...))
	}
}

// Error logs if level is error (always).
func Error(format string, v ...interface{}) {
	get().Error(fmt.Sprintf(format, v...))
}
