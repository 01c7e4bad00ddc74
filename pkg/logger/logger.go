// Package logger provides structured logging with optional per-app scoping
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithApp(app string) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// WithError is shorthand for WithField("error", err)
func WithError(err error) Field {
	return Field{Key: "error", Value: err}
}

// AppLogger implements Logger with app awareness
type AppLogger struct {
	logger  *logrus.Logger
	appName string
	mu      sync.RWMutex
}

// CustomFormatter formats log lines with colors and the wraith marker
type CustomFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	marker := "🌫"
	timestamp := entry.Time.Format(f.TimestampFormat)

	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	case logrus.DebugLevel, logrus.TraceLevel:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	}

	if _, ok := entry.Data[successKey]; ok {
		levelColor = color.New(color.FgGreen)
		levelText = "SUCCESS"
	}

	data := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}
	delete(data, successKey)

	appPrefix := ""
	if app, ok := data[appKey]; ok {
		if f.DisableColors {
			appPrefix = fmt.Sprintf("[%s] ", app)
		} else {
			appPrefix = fmt.Sprintf("[%s] ", color.New(color.FgBlue).Sprint(app))
		}
		delete(data, appKey)
	}

	var output string
	if f.DisableColors {
		output = fmt.Sprintf("%s [%s] %s: %s%s", marker, timestamp, levelText, appPrefix, entry.Message)
	} else {
		output = fmt.Sprintf("%s [%s] %s: %s%s",
			marker,
			timestamp,
			levelColor.Sprint(levelText),
			appPrefix,
			entry.Message,
		)
	}

	// Fields are sorted so output is stable
	if len(data) > 0 {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
		}
		fields := " {" + strings.Join(parts, ", ") + "}"
		if f.DisableColors {
			output += fields
		} else {
			output += color.New(color.FgWhite, color.Faint).Sprint(fields)
		}
	}

	return []byte(output + "\n"), nil
}

const (
	appKey     = "app"
	successKey = "__success"
)

// CreateLogger creates a new logger instance
func CreateLogger(logFile string, logLevel string) Logger {
	log := logrus.New()
	log.SetLevel(parseLevel(logLevel))

	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   false,
	})

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}

	return &AppLogger{
		logger: log,
	}
}

// CreateLoggerWithOutput creates a logger with custom output (for testing)
func CreateLoggerWithOutput(logFile string, logLevel string, output io.Writer) Logger {
	log := logrus.New()
	log.SetLevel(parseLevel(logLevel))

	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   true,
	})

	if logFile != "" {
		if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666); err == nil {
			output = io.MultiWriter(output, file)
		}
	}
	log.SetOutput(output)

	return &AppLogger{
		logger: log,
	}
}

// Discard returns a logger that drops everything
func Discard() Logger {
	return CreateLoggerWithOutput("", "error", io.Discard)
}

// parseLevel maps verbosity names to logrus levels. "silent" suppresses all but errors.
func parseLevel(logLevel string) logrus.Level {
	switch strings.ToLower(logLevel) {
	case "silent", "none":
		return logrus.ErrorLevel
	case "verbose":
		return logrus.DebugLevel
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// WithApp creates a new logger scoped to an app
func (l *AppLogger) WithApp(app string) Logger {
	return &AppLogger{
		logger:  l.logger,
		appName: app,
	}
}

func (l *AppLogger) convertFields(fields []Field) logrus.Fields {
	result := make(logrus.Fields)
	if l.appName != "" {
		result[appKey] = l.appName
	}
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return result
}

func (l *AppLogger) log(level logrus.Level, message string, fields []Field, extra logrus.Fields) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data := l.convertFields(fields)
	for k, v := range extra {
		data[k] = v
	}
	l.logger.WithFields(data).Log(level, message)
}

// Info logs an info message
func (l *AppLogger) Info(message string, fields ...Field) {
	l.log(logrus.InfoLevel, message, fields, nil)
}

// Error logs an error message
func (l *AppLogger) Error(message string, fields ...Field) {
	l.log(logrus.ErrorLevel, message, fields, nil)
}

// Warn logs a warning message
func (l *AppLogger) Warn(message string, fields ...Field) {
	l.log(logrus.WarnLevel, message, fields, nil)
}

// Debug logs a debug message
func (l *AppLogger) Debug(message string, fields ...Field) {
	l.log(logrus.DebugLevel, message, fields, nil)
}

// Success logs at info level, rendered green with a check mark
func (l *AppLogger) Success(message string, fields ...Field) {
	l.log(logrus.InfoLevel, "✅ "+message, fields, logrus.Fields{successKey: true})
}

// ConsoleLogger prints the CLI's own messages, outside the log stream
type ConsoleLogger struct {
	out io.Writer
	err io.Writer
}

// NewConsoleLogger creates a console logger on stdout and stderr
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{out: os.Stdout, err: os.Stderr}
}

// NewConsoleLoggerWithOutput creates a console logger writing to the given streams
func NewConsoleLoggerWithOutput(out, errOut io.Writer) *ConsoleLogger {
	return &ConsoleLogger{out: out, err: errOut}
}

func (c *ConsoleLogger) line(w io.Writer, tag func(string, ...interface{}) string, message string) {
	fmt.Fprintf(w, "🌫 %s %s\n", tag("[Wraith]"), message)
}

// Info prints an informational line
func (c *ConsoleLogger) Info(message string) {
	c.line(c.out, color.CyanString, message)
}

// Error prints to the error stream
func (c *ConsoleLogger) Error(message string) {
	c.line(c.err, color.RedString, message)
}

// Warn prints a warning line
func (c *ConsoleLogger) Warn(message string) {
	c.line(c.out, color.YellowString, message)
}

// Success prints a line marked with a check mark
func (c *ConsoleLogger) Success(message string) {
	c.line(c.out, color.GreenString, "✅ "+message)
}
