package fiber

import (
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Category tags every log line this package emits, mirroring the
// category field eventloop/logging.go carries on every LogEntry
// ("timer", "promise", "microtask", "poll", "shutdown"); ours are the
// five categories SPEC_FULL.md §3.2 lists.
type Category string

const (
	CategorySched  Category = "sched"
	CategoryIdle   Category = "idle"
	CategoryTimer  Category = "timer"
	CategoryFiber  Category = "fiber"
	CategorySignal Category = "signal"
)

// globalLogger is the package-level logging engine, guarded the same way
// eventloop.globalLogger is: an RWMutex around a single swappable
// implementation, defaulting to a disabled logger so a program that never
// calls SetLogger pays no output cost.
var globalLogger struct {
	sync.RWMutex
	logger *logiface.Logger[*stumpy.Event]
}

func init() {
	globalLogger.logger = NewStumpyLogger(os.Stderr, logiface.LevelDisabled)
}

// SetLogger installs the logger used by every Runtime started after this
// call returns. Passing a logger built with logiface.LevelDisabled (the
// default) silences output entirely without removing the call sites.
func SetLogger(l *logiface.Logger[*stumpy.Event]) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = l
}

func getLogger() *logiface.Logger[*stumpy.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// NewStumpyLogger builds this package's default logging engine: stumpy's
// newline-delimited JSON encoder writing to w, active at level and above.
func NewStumpyLogger(w io.Writer, level logiface.Level) *logiface.Logger[*stumpy.Event] {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*stumpy.Event](level),
	)
}

// logBuilder attaches category to a builder obtained from r's configured
// logger (the global default from getLogger unless overridden by
// WithLogger, resolved once at Init) at level, or reports back a nil
// builder if logging is disabled or the level is filtered out.
func (r *Runtime) logBuilder(cat Category, level Level) *logiface.Builder[*stumpy.Event] {
	l := r.cfg.logger
	if l == nil {
		return nil
	}
	b := l.Build(level)
	if b == nil {
		return nil
	}
	return b.Str("category", string(cat))
}

// Level re-exports logiface.Level so callers building a logger with
// NewStumpyLogger don't need to import logiface directly for the common case.
type Level = logiface.Level

const (
	LevelDisabled      = logiface.LevelDisabled
	LevelEmergency     = logiface.LevelEmergency
	LevelError         = logiface.LevelError
	LevelWarning       = logiface.LevelWarning
	LevelInformational = logiface.LevelInformational
	LevelDebug         = logiface.LevelDebug
	LevelTrace         = logiface.LevelTrace
)
