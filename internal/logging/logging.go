package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields are structured key/value pairs attached to a log line.
type Fields = logrus.Fields

var (
	once sync.Once
	std  *logrus.Logger
)

// Logger returns the process-wide logger. It writes JSON to stdout at the
// level named by LOG_LEVEL (info when unset or unknown).
func Logger() *logrus.Logger {
	once.Do(func() {
		std = logrus.New()
		std.SetOutput(os.Stdout)
		std.SetFormatter(&logrus.JSONFormatter{})
		std.SetLevel(levelFromEnv())
	})
	return std
}

func levelFromEnv() logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// SetOutput redirects the logger, e.g. to a buffer in tests.
func SetOutput(w io.Writer) { Logger().SetOutput(w) }

func Log(level logrus.Level, msg string, fields map[string]any) {
	Logger().WithFields(logrus.Fields(fields)).Log(level, msg)
}

func Debug(msg string, fields map[string]any) { Log(logrus.DebugLevel, msg, fields) }
func Info(msg string, fields map[string]any)  { Log(logrus.InfoLevel, msg, fields) }
func Warn(msg string, fields map[string]any)  { Log(logrus.WarnLevel, msg, fields) }
func Error(msg string, fields map[string]any) { Log(logrus.ErrorLevel, msg, fields) }
