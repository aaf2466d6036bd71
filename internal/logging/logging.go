// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options controls logger setup.
type Options struct {
	// Level is a logrus level name ("debug", "info", ...). Empty means info.
	Level string
	// JSON selects the JSON formatter instead of text.
	JSON bool
	// Output defaults to stderr.
	Output io.Writer
}

// Setup builds a logger from opts.
func Setup(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		level, err = logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	logger.SetLevel(level)

	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger, nil
}

// ForRun returns an entry tagged with a fresh run ID and the component
// name.
func ForRun(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"run_id":    uuid.NewString(),
		"component": component,
	})
}

// Discard returns an entry that drops everything. Used where no logger was
// configured.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
