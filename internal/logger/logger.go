// Package logger is the module-tagged leveled logger shared by every package.
// Output goes through a zap console core; each module gets a named child logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

// silentLevel sits above every level zap emits.
const silentLevel = zapcore.FatalLevel + 1

var levelNames = map[LogLevel]string{
	DEBUG:  "DEBUG",
	INFO:   "INFO",
	WARN:   "WARN",
	ERROR:  "ERROR",
	SILENT: "SILENT",
}

var zapLevels = map[LogLevel]zapcore.Level{
	DEBUG:  zapcore.DebugLevel,
	INFO:   zapcore.InfoLevel,
	WARN:   zapcore.WarnLevel,
	ERROR:  zapcore.ErrorLevel,
	SILENT: silentLevel,
}

// Logger writes leveled, module-tagged lines.
type Logger struct {
	level zap.AtomicLevel
	base  *zap.Logger

	mu    sync.Mutex
	named map[string]*zap.SugaredLogger
}

var (
	defaultLogger *Logger
	once          sync.Once
	nop           = &Logger{level: zap.NewAtomicLevelAt(silentLevel), base: zap.NewNop(), named: map[string]*zap.SugaredLogger{}}
)

// Init installs the global logger. Later calls are ignored.
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// New returns a Logger writing to output (stderr when nil).
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if useColor {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encCfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + name + "]")
	}
	encCfg.CallerKey = ""
	encCfg.StacktraceKey = ""

	atom := zap.NewAtomicLevelAt(level.zap())
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(output)),
		atom,
	)

	return &Logger{
		level: atom,
		base:  zap.New(core),
		named: make(map[string]*zap.SugaredLogger),
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zap())
}

func (l *Logger) GetLevel() LogLevel {
	current := l.level.Level()
	for lvl, z := range zapLevels {
		if z == current {
			return lvl
		}
	}
	return SILENT
}

// Sync flushes buffered output
func (l *Logger) Sync() error {
	return l.base.Sync()
}

func (l *Logger) module(name string) *zap.SugaredLogger {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.named[name]; ok {
		return s
	}
	base := l.base
	if name != "" {
		base = base.Named(name)
	}
	s := base.Sugar()
	l.named[name] = s
	return s
}

func (l *Logger) Debug(module string, format string, args ...interface{}) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.module(module).Debugf(format, args...)
	}
}

func (l *Logger) Info(module string, format string, args ...interface{}) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.module(module).Infof(format, args...)
	}
}

func (l *Logger) Warn(module string, format string, args ...interface{}) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.module(module).Warnf(format, args...)
	}
}

func (l *Logger) Error(module string, format string, args ...interface{}) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.module(module).Errorf(format, args...)
	}
}

// std returns the global logger, or a discarding one before Init.
func std() *Logger {
	if defaultLogger != nil {
		return defaultLogger
	}
	return nop
}

func SetLevel(level LogLevel) { std().SetLevel(level) }

// GetLevel reports INFO until Init has run.
func GetLevel() LogLevel {
	if defaultLogger == nil {
		return INFO
	}
	return defaultLogger.GetLevel()
}

func Sync() error { return std().Sync() }

func Debug(module string, format string, args ...interface{}) { std().Debug(module, format, args...) }

func Info(module string, format string, args ...interface{}) { std().Info(module, format, args...) }

func Warn(module string, format string, args ...interface{}) { std().Warn(module, format, args...) }

func Error(module string, format string, args ...interface{}) { std().Error(module, format, args...) }

// ParseLevel accepts level names in any case, plus "warning" and "none".
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

func (l LogLevel) zap() zapcore.Level {
	if z, ok := zapLevels[l]; ok {
		return z
	}
	return zapcore.InfoLevel
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
