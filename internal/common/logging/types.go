package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity a logger writes
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

func (l LogLevel) zap() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Format selects the line encoding
type Format string

const (
	// ConsoleFormat writes tab separated human readable lines
	ConsoleFormat Format = "console"
	// JSONFormat writes one JSON object per line
	JSONFormat Format = "json"
)

// Field is a key/value pair attached to a log line
type Field struct {
	Key   string
	Value interface{}
}

// Logger is what every component logs through. Error takes the failure
// separately so adapters can render it consistently.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// LogConfig holds logger configuration. A nil Output means stdout.
type LogConfig struct {
	Level  LogLevel
	Format Format
	Output io.Writer
}

// ParseLevel converts LOG_LEVEL to a LogLevel, defaulting to InfoLevel
func ParseLevel(levelStr string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(levelStr))
	if name == "WARNING" {
		return WarnLevel
	}
	for level, n := range levelNames {
		if n == name {
			return level
		}
	}
	return InfoLevel
}

// ParseFormat converts LOG_FORMAT, defaulting to ConsoleFormat
func ParseFormat(format string) Format {
	if strings.EqualFold(strings.TrimSpace(format), string(JSONFormat)) {
		return JSONFormat
	}
	return ConsoleFormat
}

// DebugEnabled reports whether a DEBUG_LOGGING value is one of the "on"
// sentinels.
func DebugEnabled(setting string) bool {
	switch strings.ToLower(strings.TrimSpace(setting)) {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}

// EffectiveLevel is DebugLevel when the debug sentinel is on and the parsed
// base level otherwise.
func EffectiveLevel(base, debugSetting string) LogLevel {
	if DebugEnabled(debugSetting) {
		return DebugLevel
	}
	return ParseLevel(base)
}

// DefaultLogConfig reads LOG_LEVEL, DEBUG_LOGGING and LOG_FORMAT
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  EffectiveLevel(os.Getenv("LOG_LEVEL"), os.Getenv("DEBUG_LOGGING")),
		Format: ParseFormat(os.Getenv("LOG_FORMAT")),
	}
}

var (
	globalLogger Logger
	globalMu     sync.RWMutex
	initOnce     sync.Once
)

// SetGlobalLogger replaces the process-wide logger
func SetGlobalLogger(logger Logger) {
	initOnce.Do(func() {})
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide logger, creating a default one on
// first use
func GetGlobalLogger() Logger {
	initOnce.Do(func() { globalLogger = NewDefaultLogger() })
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

func Debug(msg string, fields ...Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { GetGlobalLogger().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}
