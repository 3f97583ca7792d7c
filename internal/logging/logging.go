package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string { return levelNames[l] }

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger carries base fields on top of the shared zap core.
type Logger struct {
	z *zap.Logger
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
	atom          = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init installs the process-wide logger writing JSON lines to w.
func Init(w io.Writer, lvl Level, baseFields map[string]interface{}) {
	InitWithFormat(w, lvl, "json", baseFields)
}

// InitWithFormat is Init with a choice of "json" or "console" encoding.
func InitWithFormat(w io.Writer, lvl Level, format string, baseFields map[string]interface{}) {
	if w == nil {
		w = os.Stderr
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.LevelKey = "lvl"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var enc zapcore.Encoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	atom.SetLevel(lvl.zapLevel())
	core := zapcore.NewCore(enc, zapcore.AddSync(w), atom)
	z := zap.New(core).With(toFields(baseFields)...)

	mu.Lock()
	defaultLogger = &Logger{z: z}
	mu.Unlock()
}

func current() *Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		Init(nil, LevelInfo, nil)
		mu.RLock()
		l = defaultLogger
		mu.RUnlock()
	}
	return l
}

func toFields(m map[string]interface{}) []zap.Field {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := m[k].(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, m[k]))
	}
	return fields
}

// WithFields returns a logger that adds fields to every entry.
func WithFields(fields map[string]interface{}) *Logger {
	return current().WithFields(fields)
}

// WithFields derives a child logger.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if l == nil {
		return current().WithFields(fields)
	}
	return &Logger{z: l.z.With(toFields(fields)...)}
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func (l *Logger) log(lvl Level, msg string, extra map[string]interface{}) {
	if l == nil {
		l = current()
	}
	if ce := l.z.Check(lvl.zapLevel(), msg); ce != nil {
		ce.Write(toFields(extra)...)
	}
}

func (l *Logger) Debug(msg string, extra map[string]interface{}) { l.log(LevelDebug, msg, extra) }
func (l *Logger) Info(msg string, extra map[string]interface{})  { l.log(LevelInfo, msg, extra) }
func (l *Logger) Warn(msg string, extra map[string]interface{})  { l.log(LevelWarn, msg, extra) }
func (l *Logger) Error(msg string, extra map[string]interface{}) { l.log(LevelError, msg, extra) }

// Top-level convenience wrappers
func Debug(msg string, extra map[string]interface{}) { current().Debug(msg, extra) }
func Warn(msg string, extra map[string]interface{})  { current().Warn(msg, extra) }

func SetLevel(lvl Level) {
	atom.SetLevel(lvl.zapLevel())
}

// Sync flushes buffered entries.
func Sync() error {
	return current().z.Sync()
}
