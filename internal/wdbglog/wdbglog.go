// Package wdbglog centralizes the session-wide logger. It mirrors the
// logging pattern the pe package's upstream module uses (a filtered
// kratos Helper handed down to every component that needs to log), just
// pointed at the debugger's own components instead of a PE parser.
package wdbglog

import (
	"os"

	"github.com/go-kratos/kratos/v2/log"
)

// New builds a *log.Helper writing to stdout, filtered at level. The
// components that log (DebugLoop and moduleimage.Load) take one of these
// rather than reaching for the global logger, so tests can pass a
// discard logger instead.
func New(level log.Level) *log.Helper {
	base := log.NewStdLogger(os.Stdout)
	base = log.With(base, "ts", log.DefaultTimestamp, "caller", log.DefaultCaller)
	return log.NewHelper(log.NewFilter(base, log.FilterLevel(level)))
}

// Discard returns a Helper that drops everything, for unit tests that
// don't want log noise.
func Discard() *log.Helper {
	return log.NewHelper(log.NewFilter(log.NewStdLogger(discardWriter{}), log.FilterLevel(log.LevelFatal+1)))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// ParseLevel maps a CLI --log-level flag value onto a kratos log.Level,
// defaulting to Info for anything unrecognized.
func ParseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
