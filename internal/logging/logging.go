// Package logging configures the process-wide logrus logger and hands out
// component-scoped entries.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias for logrus.Fields.
type Fields = logrus.Fields

// Config controls log level, format and destination.
type Config struct {
	// Level is a logrus level name: trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format"`

	// Output is "stdout", "stderr" or a file path. File output is rotated.
	Output string `mapstructure:"output"`

	// MaxSizeMB is the size at which a log file is rotated.
	MaxSizeMB int `mapstructure:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `mapstructure:"max_backups"`

	// MaxAgeDays is the number of days rotated files are kept.
	MaxAgeDays int `mapstructure:"max_age_days"`

	// ReportCaller adds file:line to every entry.
	ReportCaller bool `mapstructure:"report_caller"`
}

// DefaultConfig returns text logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		Output:     "stderr",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

var (
	mu     sync.RWMutex
	logger = newLogger()
	closer io.Closer
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	return l
}

// Logger returns the process logger.
func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(component string) *logrus.Entry {
	return Logger().WithField("component", component)
}

// Setup applies cfg to the process logger. A previously opened log file is
// closed.
func Setup(cfg Config) error {
	l, c, err := New(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	old := closer
	logger, closer = l, c
	mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// New builds a logger from cfg. The returned closer is non-nil when output
// goes to a file.
func New(cfg Config) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetReportCaller(cfg.ReportCaller)

	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}

	switch cfg.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	var c io.Closer
	switch cfg.Output {
	case "stderr", "":
		l.SetOutput(os.Stderr)
	case "stdout":
		l.SetOutput(os.Stdout)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		l.SetOutput(lj)
		c = lj
	}

	return l, c, nil
}

// BadgerLogger adapts a logrus entry to badger's logger interface, shifting
// badger's chatty info messages down to debug.
type BadgerLogger struct {
	*logrus.Entry
}

// Infof logs at debug level.
func (b BadgerLogger) Infof(format string, args ...interface{}) {
	b.Entry.Debugf(format, args...)
}
