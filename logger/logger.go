package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	TRACE LogLevel = iota // Poll loop internals, raw frames
	DEBUG                 // Heartbeat traffic, periodic status reports
	INFO                  // Lifecycle events (discovery, connect, disconnect)
	WARN                  // Recoverable faults, watchdog near timeout
	ERROR                 // Watchdog expiry, transport failures
)

// traceLevel sits below zap's debug level so zap never filters it on its own.
const traceLevel = zapcore.DebugLevel - 1

var (
	currentLevel = INFO
	base         *zap.Logger
	mu           sync.RWMutex
)

func init() {
	if env := os.Getenv("BLELINK_LOG_LEVEL"); env != "" {
		currentLevel = ParseLevel(env)
	}
	base = newZapLogger(os.Stdout)
}

func newZapLogger(w io.Writer) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "prefix",
		MessageKey:       "msg",
		EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeLevel:      encodeLevel,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	}
	// Filtering happens in log() against currentLevel.
	enabler := zap.LevelEnablerFunc(func(zapcore.Level) bool { return true })
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), enabler)
	return zap.New(core)
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case traceLevel:
		enc.AppendString("TRACE")
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO ")
	case zapcore.WarnLevel:
		enc.AppendString("WARN ")
	default:
		enc.AppendString("ERROR")
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE:
		return traceLevel
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// String returns the upper-case level name
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	default:
		return "ERROR"
	}
}

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects all log output to w
func SetOutput(w io.Writer) {
	l := newZapLogger(w)
	mu.Lock()
	old := base
	base = l
	mu.Unlock()
	_ = old.Sync()
}

// Sync flushes buffered output
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

// ParseLevel converts a string to a LogLevel
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Enabled reports whether messages at level would be written
func Enabled(level LogLevel) bool {
	return level >= GetLevel()
}

// Log writes a message at the given level
func Log(level LogLevel, prefix, format string, args ...interface{}) {
	log(level, prefix, format, args...)
}

func log(level LogLevel, prefix, format string, args ...interface{}) {
	mu.RLock()
	l, threshold := base, currentLevel
	mu.RUnlock()
	if level < threshold {
		return
	}

	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if prefix != "" {
		l = l.Named(prefix)
	}
	if ce := l.Check(level.zapLevel(), msg); ce != nil {
		ce.Write()
	}
}

// Trace logs a trace message (poll loop internals, raw frames)
func Trace(prefix, format string, args ...interface{}) {
	log(TRACE, prefix, format, args...)
}

// Debug logs a debug message
func Debug(prefix, format string, args ...interface{}) {
	log(DEBUG, prefix, format, args...)
}

// Info logs an info message (high-level events)
func Info(prefix, format string, args ...interface{}) {
	log(INFO, prefix, format, args...)
}

// Warn logs a warning message
func Warn(prefix, format string, args ...interface{}) {
	log(WARN, prefix, format, args...)
}

// Error logs an error message
func Error(prefix, format string, args ...interface{}) {
	log(ERROR, prefix, format, args...)
}

// ToJSON converts any value to a pretty-printed JSON string for logging
func ToJSON(v interface{}) string {
	if msg, ok := v.(proto.Message); ok {
		marshaler := protojson.MarshalOptions{
			Multiline: true,
			Indent:    "  ",
		}
		jsonBytes, err := marshaler.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("<error: %v>", err)
		}
		return string(jsonBytes)
	}

	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(jsonBytes)
}

// DebugJSON logs a debug message with a JSON representation
func DebugJSON(prefix, label string, v interface{}) {
	if !Enabled(DEBUG) {
		return
	}
	log(DEBUG, prefix, "%s:\n%s", label, ToJSON(v))
}
