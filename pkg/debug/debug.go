package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
)

// LogFileName is the name of the log file when file logging is enabled
const LogFileName = "autopwn.log"

var (
	// mu protects all mutable state from concurrent access
	mu sync.RWMutex

	isEnabled    bool
	currentLevel LogLevel

	logFile     *os.File
	logFilePath string
	logger      *log.Logger

	// dataDirPrefix is stripped from logged paths so scratch paths stay short
	dataDirPrefix string

	levelNames = map[LogLevel]string{
		LevelDebug:   "DEBUG",
		LevelInfo:    "INFO",
		LevelWarning: "WARNING",
		LevelError:   "ERROR",
	}
	levelMap = map[string]LogLevel{
		"DEBUG":   LevelDebug,
		"INFO":    LevelInfo,
		"WARNING": LevelWarning,
		"ERROR":   LevelError,
	}
)

func init() {
	logger = log.New(os.Stdout, "", 0)
	Reinitialize()
}

// Reinitialize re-reads DEBUG, LOG_LEVEL and LOG_DIR from the environment
func Reinitialize() {
	debugEnv := os.Getenv("DEBUG")
	enabled := debugEnv == "true" || debugEnv == "1"

	level := LevelInfo // Default to INFO if not specified
	if l, exists := levelMap[strings.ToUpper(os.Getenv("LOG_LEVEL"))]; exists {
		level = l
	}

	mu.Lock()
	isEnabled = enabled
	currentLevel = level
	mu.Unlock()

	if enabled {
		if logDir := os.Getenv("LOG_DIR"); logDir != "" {
			if err := EnableFileLogging(logDir); err != nil {
				fmt.Fprintf(os.Stderr, "debug: file logging disabled: %v\n", err)
			}
		}
		Info("Debug logging initialized - Enabled: %v, Level: %s, File: %s", enabled, levelNames[level], GetLogFilePath())
	} else {
		_ = DisableFileLogging()
	}
}

// IsDebugEnabled returns whether debug logging is enabled (thread-safe)
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return isEnabled
}

// GetLogLevel returns the current log level (thread-safe)
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// GetLogFilePath returns the log file path, empty when file logging is off
func GetLogFilePath() string {
	mu.RLock()
	defer mu.RUnlock()
	return logFilePath
}

// SetEnabled enables or disables debug logging at runtime (thread-safe)
func SetEnabled(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	isEnabled = enabled
}

// SetLogLevel sets the minimum log level at runtime (thread-safe)
func SetLogLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// ParseLevel converts a string to LogLevel
func ParseLevel(levelStr string) (LogLevel, bool) {
	level, exists := levelMap[strings.ToUpper(levelStr)]
	return level, exists
}

// SetOutput replaces the stdout writer. File logging, when enabled, still receives every line.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		w = io.MultiWriter(w, logFile)
	}
	logger = log.New(w, "", 0)
}

// EnableFileLogging mirrors every log line into logsDir/autopwn.log
func EnableFileLogging(logsDir string) error {
	mu.Lock()
	defer mu.Unlock()

	path := filepath.Join(logsDir, LogFileName)
	if logFile != nil && logFilePath == path {
		return nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = f
	logFilePath = path
	logger = log.New(io.MultiWriter(os.Stdout, f), "", 0)
	return nil
}

// DisableFileLogging closes the log file and returns to stdout only
func DisableFileLogging() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	logFilePath = ""
	logger = log.New(os.Stdout, "", 0)
	return err
}

// SetDataDir sets the directory prefix stripped from logged messages
func SetDataDir(path string) {
	mu.Lock()
	defer mu.Unlock()
	if path != "" && !strings.HasSuffix(path, string(os.PathSeparator)) {
		path += string(os.PathSeparator)
	}
	dataDirPrefix = path
}

// SanitizeMessage converts absolute scratch paths to paths relative to the data dir
func SanitizeMessage(msg string) string {
	mu.RLock()
	prefix := dataDirPrefix
	mu.RUnlock()

	if prefix == "" {
		return msg
	}
	return strings.ReplaceAll(msg, prefix, "")
}

// Log prints a structured message at INFO level
func Log(message string, fields map[string]interface{}) {
	if len(fields) == 0 {
		LogWithLevel(LevelInfo, "%s", message)
		return
	}
	fieldStrs := make([]string, 0, len(fields))
	for k, v := range fields {
		fieldStrs = append(fieldStrs, fmt.Sprintf("%s=%v", k, v))
	}
	LogWithLevel(LevelInfo, "%s [%s]", message, strings.Join(fieldStrs, ", "))
}

// LogWithLevel formats and writes a message when logging is enabled and level is high enough
func LogWithLevel(level LogLevel, format string, v ...interface{}) {
	mu.RLock()
	enabled := isEnabled
	minLevel := currentLevel
	mu.RUnlock()

	if !enabled || level < minLevel {
		return
	}

	// Skip LogWithLevel and the Debug/Info/... wrapper
	pc, file, line, _ := runtime.Caller(2)
	funcName := runtime.FuncForPC(pc).Name()

	message := SanitizeMessage(fmt.Sprintf(format, v...))
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	mu.RLock()
	logger.Printf("[%s] [%s] [%s:%d] [%s] %s\n",
		levelNames[level],
		timestamp,
		filepath.Base(file),
		line,
		funcName,
		message,
	)
	mu.RUnlock()
}

// Debug logs a debug level message
func Debug(format string, v ...interface{}) {
	LogWithLevel(LevelDebug, format, v...)
}

// Info logs an info level message
func Info(format string, v ...interface{}) {
	LogWithLevel(LevelInfo, format, v...)
}

// Warning logs a warning level message
func Warning(format string, v ...interface{}) {
	LogWithLevel(LevelWarning, format, v...)
}

// Error logs an error level message
func Error(format string, v ...interface{}) {
	LogWithLevel(LevelError, format, v...)
}
