// Package cmd holds the helpers shared by the pki binaries.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-errors/errors"
	"github.com/sirupsen/logrus"
)

// ReadConfigFile takes a file path as an argument and attempts to
// unmarshal the content of the file into a struct containing a
// configuration of a pki component.
func ReadConfigFile(filename string, out interface{}) error {
	configData, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(configData, out)
}

// FailOnError exits and prints an error message, with the stack of the
// caller, if we encountered a problem.
func FailOnError(err error, msg string) {
	if err != nil {
		wrapped := errors.Wrap(err, 1)
		fmt.Fprintf(os.Stderr, "%s: %s\n\n%s", msg, err, wrapped.Stack())
		os.Exit(1)
	}
}

// CatchSignals catches SIGTERM, SIGINT, SIGHUP and executes a callback
// method before exiting
func CatchSignals(callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)
	signal.Notify(sigChan, syscall.SIGHUP)

	<-sigChan
	if callback != nil {
		callback()
	}

	os.Exit(0)
}

// LogLevel reads LOG_LEVEL, falling back to fallback when it is unset or
// does not parse.
func LogLevel(fallback logrus.Level) logrus.Level {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return fallback
	}
	return level
}

// NewLogger returns a JSON logger writing to out, tagged with the
// component name.
func NewLogger(out io.Writer, component string, level logrus.Level) *logrus.Entry {
	log := logrus.New()
	log.Out = out
	log.Formatter = &logrus.JSONFormatter{}
	log.SetLevel(level)
	return log.WithField("component", component)
}

// Duration is a time.Duration that reads from JSON as a string such as
// "90s" or "1h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
