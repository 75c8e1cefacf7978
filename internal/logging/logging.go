// Package logging builds the zerolog logger shared by every wpguard command.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const consoleTimeFormat = "15:04:05"

// Format selects how log lines are rendered.
type Format string

const (
	// FormatAuto uses the console writer on a terminal and JSON otherwise.
	FormatAuto    Format = "auto"
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Options configures New.
type Options struct {
	Level  string
	Format Format
	// File, when set, receives JSON lines in addition to Out.
	File string
	Out  io.Writer
}

// Logger wraps the root logger together with the file it may own.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// New creates the root logger. Out defaults to stderr so command output on
// stdout stays machine-readable.
func New(opts Options) (*Logger, error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	format := opts.Format
	if format == "" || format == FormatAuto {
		format = FormatJSON
		if isTerminal(out) {
			format = FormatConsole
		}
	}

	writers := make([]io.Writer, 0, 2)
	switch format {
	case FormatConsole:
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat})
	case FormatJSON:
		writers = append(writers, out)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	l := &Logger{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		writers = append(writers, zerolog.SyncWriter(f))
	}

	zerolog.ErrorFieldName = "err"
	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	return l, nil
}

// ParseLevel maps a level name to a zerolog level, returning def for
// anything unrecognized.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "OFF", "DISABLED", "NONE":
		return zerolog.Disabled
	default:
		return def
	}
}

// VerbosityLevel turns -v/-q flags into a level name. An explicit level wins.
func VerbosityLevel(explicit string, verbose, quiet bool) string {
	switch {
	case explicit != "":
		return explicit
	case quiet:
		return "error"
	case verbose:
		return "debug"
	default:
		return "info"
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
