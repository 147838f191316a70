// Package monitoring holds the diagnostic logger shared by the alignment hub,
// the alignment manager and the relay.
package monitoring

import (
	"log"
	"sync/atomic"
)

// LogFunc is the printf-style signature used for diagnostics.
type LogFunc func(format string, v ...interface{})

var current atomic.Pointer[LogFunc]

func init() {
	SetLogger(log.Printf)
}

// Logf writes a diagnostic line through the active logger. It defaults to
// log.Printf but may be replaced by SetLogger. Safe for concurrent use.
func Logf(format string, v ...interface{}) {
	(*current.Load())(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f LogFunc) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	current.Store(&f)
}

// Prefixed returns a LogFunc that tags every line with a bracketed component
// name, e.g. Prefixed("Hub") logs "[Hub] ...". The returned function always
// writes through the logger active at call time.
func Prefixed(component string) LogFunc {
	prefix := "[" + component + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
