package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the root structured logger for the process. Format and level
// are config-driven; every downstream component derives a scoped child via
// WithComponent rather than writing to the root logger directly.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	switch format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// WithComponent returns a child entry tagged with the owning component,
// so every log line from a pipeline stage can be grepped in isolation.
func WithComponent(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// WithEvent tags a log entry with the identifying fields of a transfer
// event under evaluation, so one transaction's path through the pipeline
// can be followed end to end.
func WithEvent(entry *logrus.Entry, signature, wallet, mint, direction string) *logrus.Entry {
	return entry.WithFields(logrus.Fields{
		"signature": signature,
		"wallet":    wallet,
		"mint":      mint,
		"direction": direction,
	})
}
