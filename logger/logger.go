package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to path, or to stdout if path is empty.
// level is one of the logrus level names ("debug", "info", ...); an unknown
// level falls back to info.
func New(path, level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if len(path) == 0 {
		l.SetOutput(os.Stdout)
		return l
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		l.SetOutput(os.Stderr)
		l.WithError(err).Warn("can't open log file, logging to stderr")
		return l
	}
	l.SetOutput(f)
	l.Infof("logging to %s", path)
	return l
}

// Discard returns a logger that drops everything. Used by tests and by
// components created without a logger.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}
