// Package logger provides the leveled logger used across the archiver.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	sentry "github.com/getsentry/sentry-go"
)

const RFC3339UsecTz0 = "2006-01-02T15:04:05.000000Z07:00"

// Ensure nopLogger implements interface.
var _ Logger = &nopLogger{}

// Logger represents an interface for a shared logger.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	// WithPrefix returns a new Logger with the same configuration as
	// this one, but all logs will have the given prefix.
	WithPrefix(prefix string) Logger
}

const (
	LevelError = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func LevelPrefix(level int) string {
	return [...]string{"ERROR: ", "WARN:  ", "INFO:  ", "DEBUG: "}[level]
}

// NopLogger represents a Logger that doesn't do anything.
var NopLogger Logger = &nopLogger{}

type nopLogger struct{}

func (n *nopLogger) Printf(format string, v ...interface{}) {}
func (n *nopLogger) Debugf(format string, v ...interface{}) {}
func (n *nopLogger) Infof(format string, v ...interface{})  {}
func (n *nopLogger) Warnf(format string, v ...interface{})  {}
func (n *nopLogger) Errorf(format string, v ...interface{}) {}

func (n *nopLogger) WithPrefix(prefix string) Logger { return n }

// Reporter receives messages logged at warn level or above.
type Reporter interface {
	Report(level int, msg string)
}

// standardLogger is a basic implementation of Logger based on log.Logger.
type standardLogger struct {
	logger    *log.Logger
	verbosity int
	prefix    string
	w         io.Writer
	reporter  Reporter
}

// write in UTC with constant width and microsecond resolution.
type formatLog struct {
	w io.Writer
}

func (fl formatLog) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(fl.w, "%v %v", time.Now().UTC().Format(RFC3339UsecTz0), string(bytes))
}

func newStandardLogger(w io.Writer, verbosity int, prefix string, r Reporter) *standardLogger {
	logger := log.New(formatLog{w: w}, "", 0)
	return &standardLogger{
		logger:    logger,
		verbosity: verbosity,
		prefix:    prefix,
		w:         w,
		reporter:  r,
	}
}

// NewStandardLogger logs at info level and above.
func NewStandardLogger(w io.Writer) *standardLogger {
	return newStandardLogger(w, LevelInfo, "", nil)
}

// NewVerboseLogger also logs debug messages.
func NewVerboseLogger(w io.Writer) *standardLogger {
	return newStandardLogger(w, LevelDebug, "", nil)
}

// New returns a stderr logger; verbose enables debug output. A non-nil
// reporter receives every warning and error.
func New(verbose bool, r Reporter) Logger {
	return NewTo(os.Stderr, verbose, r)
}

// NewTo is New writing to w.
func NewTo(w io.Writer, verbose bool, r Reporter) Logger {
	level := LevelInfo
	if verbose {
		level = LevelDebug
	}
	return newStandardLogger(w, level, "", r)
}

func (s *standardLogger) printf(level int, format string, v ...interface{}) {
	if level > s.verbosity {
		return
	}
	msg := fmt.Sprintf(format, v...)
	if s.reporter != nil && level <= LevelWarn {
		s.reporter.Report(level, s.prefix+msg)
	}
	s.logger.Print(LevelPrefix(level) + s.prefix + msg)
}

func (s *standardLogger) Printf(format string, v ...interface{}) {
	s.printf(LevelInfo, format, v...)
}

func (s *standardLogger) Debugf(format string, v ...interface{}) {
	s.printf(LevelDebug, format, v...)
}

func (s *standardLogger) Infof(format string, v ...interface{}) {
	s.printf(LevelInfo, format, v...)
}

func (s *standardLogger) Warnf(format string, v ...interface{}) {
	s.printf(LevelWarn, format, v...)
}

func (s *standardLogger) Errorf(format string, v ...interface{}) {
	s.printf(LevelError, format, v...)
}

func (s *standardLogger) WithPrefix(prefix string) Logger {
	return newStandardLogger(s.w, s.verbosity, s.prefix+prefix, s.reporter)
}

// SentryReporter forwards warnings and errors to Sentry.
type SentryReporter struct {
	FlushTimeout time.Duration
}

// NewSentryReporter initializes the Sentry client. An empty dsn disables
// reporting and returns nil.
func NewSentryReporter(dsn, release string) (*SentryReporter, error) {
	if dsn == "" {
		return nil, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		Release:          release,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry.Init: %w", err)
	}
	return &SentryReporter{FlushTimeout: 2 * time.Second}, nil
}

func (r *SentryReporter) Report(level int, msg string) {
	if level == LevelError {
		sentry.CaptureException(fmt.Errorf("%s", msg))
	} else {
		sentry.CaptureMessage(msg)
	}
}

// Flush waits for buffered events to be delivered.
func (r *SentryReporter) Flush() {
	sentry.Flush(r.FlushTimeout)
}

// KV adapts a Logger to the key/value leveled interface used by HTTP client
// libraries (Error/Warn/Info/Debug with trailing key/value pairs).
type KV struct {
	L Logger
}

func (k KV) Error(msg string, kv ...interface{}) { k.L.Errorf("%s%s", msg, pairs(kv)) }
func (k KV) Warn(msg string, kv ...interface{})  { k.L.Warnf("%s%s", msg, pairs(kv)) }
func (k KV) Info(msg string, kv ...interface{})  { k.L.Infof("%s%s", msg, pairs(kv)) }
func (k KV) Debug(msg string, kv ...interface{}) { k.L.Debugf("%s%s", msg, pairs(kv)) }

func pairs(kv []interface{}) string {
	var s string
	for i := 0; i+1 < len(kv); i += 2 {
		s += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		s += fmt.Sprintf(" %v", kv[len(kv)-1])
	}
	return s
}
