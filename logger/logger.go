package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers don't have to import logrus directly.
type Fields = logrus.Fields

type Options struct {
	Level      string
	JSONFormat bool

	// File enables rotating file output in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var root = logrus.New()

func init() {
	root.SetOutput(os.Stdout)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	root.SetLevel(logrus.InfoLevel)
}

// Setup configures the process-wide logger. Safe to call once at startup.
func Setup(opts Options) {
	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	root.SetLevel(level)

	if opts.JSONFormat {
		root.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
			Compress:   true,
		}
		root.SetOutput(io.MultiWriter(os.Stdout, rotating))
	}
}

// WithComponent returns an entry tagged with the originating component name.
func WithComponent(component string) *logrus.Entry {
	return root.WithField("component", component)
}

func WithFields(fields Fields) *logrus.Entry {
	return root.WithFields(fields)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
