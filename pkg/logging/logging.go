// Package logging builds the registry's root logrus.Entry for leveled,
// field-carrying log lines.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a root *logrus.Entry at the given level (one of logrus's
// level names: "debug", "info", "warn", "error"). An unrecognized level
// falls back to info.
func New(level string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logrus.NewEntry(logger)
}
