package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level defines the log severity levels.
type Level int32

// Enumeration of log levels from least to most severe.
const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
	// Off disables all output, including fatal messages.
	Off
)

// String provides a string representation of the logging level.
func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	case Off:
		return "OFF"
	default:
		panic("invalid log level")
	}
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return Debug, nil
	case "INFO", "":
		return Info, nil
	case "WARN", "WARNING":
		return Warn, nil
	case "ERROR":
		return Error, nil
	case "FATAL":
		return Fatal, nil
	case "OFF", "NONE":
		return Off, nil
	default:
		return Info, fmt.Errorf("unknown log level %q", name)
	}
}

// Logger represents the logging structure with configurable options.
type Logger struct {
	// Logging options that determine behavior such as output destination and log level.
	options options

	// The component name written after the prefix, empty for the root logger.
	component string

	// The underlying standard logger.
	base *log.Logger
}

// NewLogger creates a new logger instance with the provided options.
// If no options are provided, default values are used.
func NewLogger(opts ...Option) (*Logger, error) {
	var options options
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, err
		}
	}

	if options.writer == nil {
		options.writer = defaultWriter
	}
	if options.flag == 0 {
		options.flag = defaultFlag
	}
	if options.prefix == "" {
		options.prefix = defaultPrefix
	}
	if !options.levelSet {
		options.level = Info
	}

	return &Logger{
		options: options,
		base:    log.New(options.writer, options.prefix, options.flag),
	}, nil
}

// Discard returns a logger that drops every message. Components use it when no
// logger is configured.
func Discard() *Logger {
	return &Logger{
		options: options{writer: io.Discard, level: Off, levelSet: true},
		base:    log.New(io.Discard, "", 0),
	}
}

// Named returns a child logger sharing the output and level of l that tags every
// message with the provided component name.
func (l *Logger) Named(component string) *Logger {
	child := *l
	if l.component != "" {
		component = l.component + "." + component
	}
	child.component = component
	return &child
}

// Level returns the minimum level that is written by the logger.
func (l *Logger) Level() Level {
	return l.options.level
}

// Debug logs a debug message with the given arguments.
func (l *Logger) Debug(args ...any) {
	if l.options.level > Debug {
		return
	}
	l.print("DEBUG: ", args...)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...any) {
	if l.options.level > Debug {
		return
	}
	l.Debug(fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(args ...any) {
	if l.options.level > Info {
		return
	}
	l.print("INFO: ", args...)
}

// Infof logs a formatted informational message.
func (l *Logger) Infof(format string, args ...any) {
	if l.options.level > Info {
		return
	}
	l.Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(args ...any) {
	if l.options.level > Warn {
		return
	}
	l.print("WARN: ", args...)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...any) {
	if l.options.level > Warn {
		return
	}
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message.
func (l *Logger) Error(args ...any) {
	if l.options.level > Error {
		return
	}
	l.print("ERROR: ", args...)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) {
	if l.options.level > Error {
		return
	}
	l.Error(fmt.Sprintf(format, args...))
}

// Fatal logs a fatal error message and then terminates the program.
func (l *Logger) Fatal(args ...any) {
	if l.options.level > Fatal {
		return
	}
	l.print("FATAL: ", args...)
	os.Exit(1)
}

// Fatalf logs a formatted fatal error message and then terminates the program.
func (l *Logger) Fatalf(format string, args ...any) {
	l.Fatal(fmt.Sprintf(format, args...))
}

// print is a utility function that prints a log message to the logger's output with the given prefix.
func (l *Logger) print(prefix string, args ...any) {
	if l.component != "" {
		prefix = prefix + "[" + l.component + "] "
	}
	l.base.Print(append([]any{prefix}, args...)...)
}
