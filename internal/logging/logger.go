// Package logging wraps logrus the same way the teacher's pkg/logger does,
// so every engine component logs through one configurable entry point
// instead of reaching for the global logrus instance.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger embeds *logrus.Logger to expose the full logrus API while letting
// call sites type their dependency as *logging.Logger.
type Logger struct {
	*logrus.Logger
}

// Config controls level/format/output construction.
type Config struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
	Output string `json:"output" env:"LOG_OUTPUT"`
}

// New builds a Logger from Config.
func New(cfg Config) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "discard" {
		out = io.Discard
	}
	log.SetOutput(out)

	return &Logger{Logger: log}
}

// NewDefault builds a Logger with sensible defaults.
func NewDefault(component string) *Logger {
	l := New(Config{Level: "info", Format: "text", Output: "stdout"})
	l.Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{Logger: l.Logger}
}

// Component returns a *logrus.Entry pre-tagged with a "component" field,
// mirroring the teacher's per-call WithFields convention.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}
