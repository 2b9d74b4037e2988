// Package logging provides the structured logger shared by every mapper
// component: a thin logrus wrapper with a Scoped() helper for attaching
// the component/flow/connector fields that show up in every log line.
package logging

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the minimum severity a logger will emit.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls how the root logger is built.
type Config struct {
	Level     Level
	Format    string // "text" or "json"
	AddCaller bool
}

// DefaultConfig returns sensible defaults for interactive use.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "text"}
}

// New builds a configured *logrus.Logger root logger.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	logger.SetReportCaller(cfg.AddCaller)
	return logger
}

// Scoped wraps a logger with a fixed set of fields, so every call site in a
// component logs with component=..., flow=..., connector=... already attached.
type Scoped struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewScoped returns a Scoped logger rooted at logger with the given base fields.
func NewScoped(logger *logrus.Logger, fields map[string]interface{}) *Scoped {
	if logger == nil {
		logger = New(DefaultConfig())
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &Scoped{logger: logger, fields: base}
}

// With returns a copy of s with an additional field attached.
func (s *Scoped) With(key string, value interface{}) *Scoped {
	fields := make(logrus.Fields, len(s.fields)+1)
	for k, v := range s.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Scoped{logger: s.logger, fields: fields}
}

// WithError attaches err under the "error" field.
func (s *Scoped) WithError(err error) *Scoped {
	return s.With("error", err.Error())
}

func (s *Scoped) entry() *logrus.Entry { return s.logger.WithFields(s.fields) }

func (s *Scoped) Debug(msg string)                          { s.entry().Debug(msg) }
func (s *Scoped) Debugf(format string, args ...interface{}) { s.entry().Debugf(format, args...) }
func (s *Scoped) Info(msg string)                           { s.entry().Info(msg) }
func (s *Scoped) Infof(format string, args ...interface{})  { s.entry().Infof(format, args...) }
func (s *Scoped) Warn(msg string)                           { s.entry().Warn(msg) }
func (s *Scoped) Warnf(format string, args ...interface{})  { s.entry().Warnf(format, args...) }
func (s *Scoped) Error(msg string)                          { s.entry().Error(msg) }
func (s *Scoped) Errorf(format string, args ...interface{}) { s.entry().Errorf(format, args...) }

// LogDuration logs the time fn took to run, tagged with operation, and
// returns whatever error fn produced.
func LogDuration(s *Scoped, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	entry := s.With("operation", operation).With("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		entry.WithError(err).Error("operation failed")
		return err
	}
	entry.Debug("operation completed")
	return nil
}

// RecoverPanic logs a recovered panic with a stack trace. Call it as
// defer logging.RecoverPanic(scoped) inside goroutines that must not crash
// the process.
func RecoverPanic(s *Scoped) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		s.With("panic", r).With("stack", string(buf[:n])).Error("recovered from panic")
	}
}
