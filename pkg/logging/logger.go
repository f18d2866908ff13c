package logging

import (
	"bytes"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Logger is a wrapper around the log.Logger from the charmbracelet/log package.
type Logger struct {
	*log.Logger
	Buffer *bytes.Buffer // set only for test loggers
}

var (
	logger *Logger
	once   sync.Once
)

// CreateLogger sets up the process-wide logger. DEBUG=1 turns on debug level
// output with caller and timestamp reporting.
func CreateLogger() {
	once.Do(func() {
		baseLogger := log.New(os.Stderr)

		if os.Getenv("DEBUG") == "1" {
			baseLogger = log.NewWithOptions(os.Stderr, log.Options{
				ReportCaller:    true,
				ReportTimestamp: true,
				TimeFormat:      time.RFC3339,
				Prefix:          "imagemin",
			})
			baseLogger.SetLevel(log.DebugLevel)
		} else {
			baseLogger.SetReportTimestamp(true)
			baseLogger.SetLevel(log.InfoLevel)
		}

		logger = &Logger{Logger: baseLogger}
	})
}

// NewTestLogger returns a debug level logger writing into an in-memory buffer.
func NewTestLogger() *Logger {
	buf := new(bytes.Buffer)
	base := log.NewWithOptions(buf, log.Options{Level: log.DebugLevel})
	return &Logger{Logger: base, Buffer: buf}
}

// GetOutput returns everything written to a test logger so far.
func (l *Logger) GetOutput() string {
	if l == nil || l.Buffer == nil {
		return ""
	}
	return l.Buffer.String()
}

// With returns a child logger carrying the given key/value pairs. The child
// shares the parent's buffer.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...), Buffer: l.Buffer}
}

// TimeOperation runs fn and logs how long it took.
func (l *Logger) TimeOperation(operation string, fn func() error) error {
	start := time.Now()
	l.Debug("starting operation", "operation", operation)

	err := fn()
	duration := time.Since(start)

	if err != nil {
		l.Error("operation failed", "operation", operation, "duration", duration, "error", err)
	} else {
		l.Info("operation completed", "operation", operation, "duration", duration)
	}
	return err
}

// BaseLogger returns the underlying *log.Logger.
func (l *Logger) BaseLogger() *log.Logger {
	return l.Logger
}

// Debug logs debug messages if debug logging is enabled.
func Debug(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Debug(msg, keyvals...)
}

// Info logs informational messages.
func Info(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Info(msg, keyvals...)
}

// Warn logs warning messages.
func Warn(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Warn(msg, keyvals...)
}

// Error logs error messages.
func Error(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Error(msg, keyvals...)
}

// Fatal logs a fatal message and exits the program.
func Fatal(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Fatal(msg, keyvals...)
}

// GetLogger returns the Logger instance.
func GetLogger() *Logger {
	ensureInitialized()
	return logger
}

// SetTestLogger replaces the process-wide logger. Tests only.
func SetTestLogger(l *Logger) {
	once.Do(func() {})
	logger = l
}

// ResetForTest drops the process-wide logger so the next call recreates it.
func ResetForTest() {
	logger = nil
	once = sync.Once{}
}

func ensureInitialized() {
	if logger == nil {
		CreateLogger()
	}
}
