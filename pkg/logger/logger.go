// Package logger provides the process-wide run log.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	globalLogger = newDiscardLogger()
	logFile      *os.File
	mu           sync.Mutex
)

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	return l
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger.SetOutput(f)

	return nil
}

// InitWriter sends log output to w.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.SetOutput(w)
}

// SetLevel sets the minimum level: debug, info, warn or error.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	mu.Lock()
	defer mu.Unlock()
	globalLogger.SetLevel(parsed)
	return nil
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger.SetOutput(io.Discard)
	globalLogger.ReplaceHooks(make(logrus.LevelHooks))
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	globalLogger.Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	globalLogger.Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	globalLogger.Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	globalLogger.Warnf(format, v...)
}

// WithFields returns an entry carrying structured context such as test or worker id.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return globalLogger.WithFields(logrus.Fields(fields))
}

// MirrorWarnings copies warnings and errors to w in addition to the log output.
// Close removes the mirror.
func MirrorWarnings(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.AddHook(&mirrorHook{w: w, formatter: globalLogger.Formatter})
}

// mirrorHook writes entries at warning level and above to a second writer.
type mirrorHook struct {
	mu        sync.Mutex
	w         io.Writer
	formatter logrus.Formatter
}

func (h *mirrorHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *mirrorHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(line)
	return err
}
