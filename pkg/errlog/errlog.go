// Package errlog centralizes error logging for netmapper: a thin wrapper
// around logrus that optionally attaches a stack trace, and can be pointed
// at a file so that error-and-above records (scan failures, conflicts) are
// kept separately from the normal progress stream.
package errlog

import (
	"fmt"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

var (
	// DebugOutput controls whether to output the trace of every error.
	DebugOutput = false

	// LogLevel is the level last applied via SetLevel.
	LogLevel logLevelFlagType = "info"
)

type logLevelFlagType string

func (l *logLevelFlagType) String() string { return string(*l) }
func (l *logLevelFlagType) Type() string   { return "level" }
func (l *logLevelFlagType) Set(str string) error {
	*l = logLevelFlagType(str)
	return SetLevel(str)
}

// SetLevel configures logrus's global level from a string, for wiring up to
// a --log-level CLI flag.
func SetLevel(s string) error {
	if DebugOutput {
		LogLevel = "debug"
	}
	switch s {
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
		DebugOutput = true
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
		DebugOutput = true
	default:
		return fmt.Errorf("unknown log level %q", s)
	}
	return nil
}

// EnableErrorFile attaches a file hook so every Error-level-and-above log
// record (which includes every call to LogError) is additionally written
// to path, independent of the configured console level. Used so that
// scan_error / scan_exception / conflict entries survive even when the
// console is running at "info" and scrolled past.
func EnableErrorFile(path string) error {
	hook, err := lfshook.NewHook(
		lfshook.PathMap{
			logrus.ErrorLevel: path,
			logrus.FatalLevel: path,
			logrus.PanicLevel: path,
		},
		&logrus.TextFormatter{FullTimestamp: true},
	)
	if err != nil {
		return fmt.Errorf("attaching error log file %q: %w", path, err)
	}
	logrus.AddHook(hook)
	return nil
}

// LogError logs an error, optionally with a stack trace when DebugOutput is
// set (errors produced via github.com/pkg/errors carry one).
func LogError(err error) {
	if err == nil {
		return
	}
	if DebugOutput {
		logrus.WithField("trace", fmt.Sprintf("%+v", err)).Error(err)
	} else {
		logrus.Error(err.Error())
	}
}

// LogErrorf wraps fmt.Errorf and LogError in one call.
func LogErrorf(format string, args ...interface{}) {
	LogError(fmt.Errorf(format, args...))
}
