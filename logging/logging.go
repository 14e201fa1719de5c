// Package logging is the leveled console logger used by every taskbot
// component. Records are written through logrus in its text format with a
// component name and an optional trace id attached to each line.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var logrusLevels = map[Level]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
}

// ParseLevel converts a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	if lvl == "WARNING" {
		lvl = LevelWarn
	}
	if _, ok := logrusLevels[lvl]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// Logger writes structured records for one component. Loggers derived with
// WithComponent or WithTraceID share output and level with their parent.
type Logger struct {
	base      *logrus.Logger
	component string
	traceID   string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return &Logger{base: base}
}

// WithComponent returns a logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{base: l.base, component: component, traceID: l.traceID}
}

// WithTraceID returns a logger that tags every record with traceID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{base: l.base, component: l.component, traceID: traceID}
}

// SetLevel sets the minimum level written.
func (l *Logger) SetLevel(level Level) {
	if lv, ok := logrusLevels[level]; ok {
		l.base.SetLevel(lv)
	}
}

// SetOutput redirects output.
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(logrus.DebugLevel, msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(logrus.InfoLevel, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(logrus.WarnLevel, msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(logrus.ErrorLevel, msg, fields)
}

func (l *Logger) log(level logrus.Level, msg string, fields []map[string]interface{}) {
	if !l.base.IsLevelEnabled(level) {
		return
	}
	data := logrus.Fields{}
	if l.component != "" {
		data["component"] = l.component
	}
	if l.traceID != "" {
		data["trace_id"] = l.traceID
	}
	for _, f := range fields {
		for k, v := range f {
			data[k] = v
		}
	}
	l.base.WithFields(data).Log(level, msg)
}

// TaskTransition records a status change.
func (l *Logger) TaskTransition(taskID int64, from, to string, actor int64) {
	l.Info("task transition", map[string]interface{}{
		"task_id": taskID,
		"from":    from,
		"to":      to,
		"actor":   actor,
	})
}

// ReminderFired records a reminder key being consumed.
func (l *Logger) ReminderFired(taskID int64, key string) {
	l.Info("reminder fired", map[string]interface{}{
		"task_id": taskID,
		"key":     key,
	})
}

// DeliveryFailed records a send that failed for one target.
func (l *Logger) DeliveryFailed(taskID int64, target string, address int64, err error) {
	l.Warn("delivery failed", map[string]interface{}{
		"task_id": taskID,
		"target":  target,
		"address": address,
		"error":   err.Error(),
	})
}

// DigestSent records a digest handed to the router.
func (l *Logger) DigestSent(scope string, recipients int) {
	l.Info("digest sent", map[string]interface{}{
		"scope":      scope,
		"recipients": recipients,
	})
}

// PersistFailed records a snapshot write that did not reach the backend.
func (l *Logger) PersistFailed(err error) {
	l.Error("persist failed", map[string]interface{}{
		"error": err.Error(),
	})
}
