package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	lWriter "github.com/sirupsen/logrus/hooks/writer"
)

// Log contains the logger used by all the logging functions.
var Log Logger

// Ctx is the logging context.
type Ctx logrus.Fields

// Logger is the main logging interface.
type Logger interface {
	Panic(args ...any)
	Fatal(args ...any)
	Error(args ...any)
	Warn(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)

	WithField(key string, value any) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
}

// Setup a basic empty logger on init.
func init() {
	logger := logrus.StandardLogger()
	logger.SetOutput(io.Discard)

	Log = logger
}

// InitLogger initializes a full logging instance.
func InitLogger(filepath string, verbose bool, debug bool) error {
	logger := logrus.StandardLogger()
	logger.Level = logrus.DebugLevel
	logger.SetOutput(io.Discard)

	// Setup the formatter.
	logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	// Setup log level.
	levels := []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
	if debug {
		levels = append(levels, logrus.InfoLevel, logrus.DebugLevel, logrus.TraceLevel)
	} else if verbose {
		levels = append(levels, logrus.InfoLevel)
	}

	// Setup writers.
	writers := []io.Writer{os.Stderr}

	if filepath != "" {
		f, err := os.OpenFile(filepath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return err
		}

		writers = append(writers, f)
	}

	logger.AddHook(&lWriter.Hook{
		Writer:    io.MultiWriter(writers...),
		LogLevels: levels,
	})

	Log = logger

	return nil
}

// AddContext returns a logger with the given context added.
func AddContext(ctx Ctx) *logrus.Entry {
	logger, ok := Log.(*logrus.Logger)
	if !ok {
		logger = logrus.StandardLogger()
	}

	return logger.WithFields(logrus.Fields(ctx))
}

func ctxEntry(ctx ...Ctx) *logrus.Entry {
	logCtx := Ctx{}
	if len(ctx) > 0 {
		logCtx = ctx[0]
	}

	return AddContext(logCtx)
}

// Trace logs a message (with optional context) at the TRACE log level.
func Trace(msg string, ctx ...Ctx) {
	ctxEntry(ctx...).Trace(msg)
}

// Debug logs a message (with optional context) at the DEBUG log level.
func Debug(msg string, ctx ...Ctx) {
	ctxEntry(ctx...).Debug(msg)
}

// Info logs a message (with optional context) at the INFO log level.
func Info(msg string, ctx ...Ctx) {
	ctxEntry(ctx...).Info(msg)
}

// Warn logs a message (with optional context) at the WARNING log level.
func Warn(msg string, ctx ...Ctx) {
	ctxEntry(ctx...).Warn(msg)
}

// Error logs a message (with optional context) at the ERROR log level.
func Error(msg string, ctx ...Ctx) {
	ctxEntry(ctx...).Error(msg)
}

// Panic logs a message (with optional context) at the PANIC log level.
func Panic(msg string, ctx ...Ctx) {
	ctxEntry(ctx...).Panic(msg)
}

// Debugf logs at the DEBUG log level using a standard printf format string.
func Debugf(format string, args ...any) {
	Log.Debug(fmt.Sprintf(format, args...))
}

// Infof logs at the INFO log level using a standard printf format string.
func Infof(format string, args ...any) {
	Log.Info(fmt.Sprintf(format, args...))
}

// Warnf logs at the WARNING log level using a standard printf format string.
func Warnf(format string, args ...any) {
	Log.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs at the ERROR log level using a standard printf format string.
func Errorf(format string, args ...any) {
	Log.Error(fmt.Sprintf(format, args...))
}
