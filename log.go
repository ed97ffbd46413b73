package corowork

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured-logging type used throughout this module,
// matching the retrieval pack's dominant logging facade
// (github.com/joeycumines/logiface) over its zero-dependency
// github.com/joeycumines/stumpy JSON backend.
type Logger = logiface.Logger[*stumpy.Event]

// defaultLogger is used by Scheduler/Scope instances constructed without an
// explicit Logger option. It writes structured JSON to stderr.
var defaultLogger = stumpy.L.New()

// NewLogger constructs a stumpy-backed logger, for callers that want to
// customize the writer or level (e.g. routing to a file, or silencing
// below Err in tests).
func NewLogger(options ...stumpy.Option) *Logger {
	return stumpy.L.New(stumpy.L.WithStumpy(options...))
}
