// Package corelog provides the engine's structured logger.
package corelog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the global logger instance shared by every component.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLevel sets the logging level by name ("debug", "info", "warn", ...).
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetOutput redirects log output.
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// SetJSONFormat switches to JSON-formatted log lines, for deployments that
// ship logs to a collector instead of a terminal.
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
}

// WithSession returns a logger entry scoped to a session id.
func WithSession(id uint32) *logrus.Entry {
	return Logger.WithField("session", id)
}

// WithNode returns a logger entry scoped to a node name.
func WithNode(name string) *logrus.Entry {
	return Logger.WithField("node", name)
}

// WithNetwork returns a logger entry scoped to a network name.
func WithNetwork(name string) *logrus.Entry {
	return Logger.WithField("network", name)
}

// WithFields returns a logger entry carrying arbitrary structured fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Logger.WithFields(fields)
}
