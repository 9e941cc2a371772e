package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

// ParseLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

var (
	mu       sync.RWMutex
	current  = INFO
	instance = newLogger(os.Stderr)
)

func newLogger(w io.Writer) zerolog.Logger {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: f, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	current = level
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	instance = newLogger(w)
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func logMessage(level LogLevel, component string, message string, fields map[string]interface{}) {
	mu.RLock()
	if level < current {
		mu.RUnlock()
		return
	}
	l := instance
	mu.RUnlock()

	event := l.WithLevel(zerologLevel(level))
	if component != "" {
		event = event.Str("component", component)
	}
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(message)
}

func Debug(component, message string) { logMessage(DEBUG, component, message, nil) }
func Info(component, message string)  { logMessage(INFO, component, message, nil) }
func Warn(component, message string)  { logMessage(WARN, component, message, nil) }
func Error(component, message string) { logMessage(ERROR, component, message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}
