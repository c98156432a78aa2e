package logging

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// New builds the process logger. format "json" writes one JSON object per
// line, anything else a human-readable console line. Output goes to stderr
// when w is nil.
func New(level, format string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	var writer log.Writer
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		writer = &log.IOWriter{Writer: w}
	} else {
		writer = &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    isTerminal(w),
			QuoteString:    true,
			EndWithMessage: true,
		}
	}

	return &log.Logger{
		Level:      ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer:     writer,
	}
}

// ParseLevel maps config strings to levels; unknown values mean info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// With returns a child logger carrying an extra string field on every entry.
func With(l *log.Logger, key, value string) *log.Logger {
	child := *l
	child.Context = log.NewContext(l.Context).Str(key, value).Value()
	return &child
}

// Nop discards everything. Handy for tests and optional collaborators.
func Nop() *log.Logger {
	return &log.Logger{Level: log.ErrorLevel + 1, Writer: &log.IOWriter{Writer: io.Discard}}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return log.IsTerminal(f.Fd())
}
