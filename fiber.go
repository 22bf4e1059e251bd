// Package fiber's root file: the public API named in SPEC_FULL.md's
// PACKAGE MAP, wiring internal/sched and internal/ioloop into one
// process-wide Runtime plus the free functions spec.md §4.5 specifies.
package fiber

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/joeycumines/go-fiber/internal/ioloop"
	"github.com/joeycumines/go-fiber/internal/sched"
	"github.com/joeycumines/go-fiber/internal/traceback"
)

// IdlePriority is spec.md's documented priority of the idle fiber: "127
// (highest)". It is exported for diagnostics and log output only — the
// idle fiber's actual ready-queue priority is idleSchedPriority, below the
// valid user range, per DESIGN.md's "fiber — idle fiber scheduling
// priority" entry. Passing IdlePriority to NewFiber/Go is legal (it is
// just 127, an ordinary high user priority) and does not make a fiber the
// idle fiber.
const IdlePriority = 127

// idleSchedPriority is the priority the idle fiber's FCB actually carries
// in the ready queue: a sentinel below 0, the lowest valid user priority,
// so ready.pop() (higher wins) never prefers it over any ready user
// fiber. See DESIGN.md.
const idleSchedPriority = -1

// Runner is a fiber's body, mirroring original_source/mys/lib/mys/fiber.hpp's
// Fiber base class: Run executes on the fiber's own goroutine once the
// scheduler has made it Current, and may call any suspension-point free
// function (Suspend, Yield, Join, Sleep, ...) to give up the gate.
type Runner interface {
	Run()
}

// RunnerFunc adapts a plain func() to Runner.
type RunnerFunc func()

// Run calls f.
func (f RunnerFunc) Run() { f() }

// Fiber is a handle to one fiber. The zero value is not usable; obtain one
// from NewFiber or Go.
type Fiber struct {
	mu       sync.Mutex
	priority int
	name     string
	runner   Runner
	started  bool
	fcb      *sched.FCB
}

// NewFiber constructs an unstarted fiber at the given priority (0..127,
// higher wins among ready user fibers) that will run runner.Run once
// started. priority is clamped into range defensively; spec.md doesn't
// define behavior for an out-of-range priority and the original's
// fiber_p->prio is an unchecked uint8_t write, so clamping (rather than
// panicking) is the conservative choice for a public API.
func NewFiber(priority int, name string, runner Runner) *Fiber {
	if priority < 0 {
		priority = 0
	} else if priority > IdlePriority {
		priority = IdlePriority
	}
	return &Fiber{priority: priority, name: name, runner: runner}
}

// Go constructs and immediately starts a fiber running fn: the common case
// where no separate unstarted handle is needed before Start.
func Go(priority int, name string, fn func()) *Fiber {
	f := NewFiber(priority, name, RunnerFunc(fn))
	_ = f.Start()
	return f
}

// String returns the fiber's name, or a synthetic "fiber#N" once started
// if it was constructed without one.
func (f *Fiber) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.name != "" {
		return f.name
	}
	if f.fcb != nil {
		return fmt.Sprintf("fiber#%d", f.fcb.ID)
	}
	return "fiber"
}

// Start spawns f's goroutine and marks it Ready, per spec.md §4.5's
// start(fiber). Idempotent: a second call returns ErrAlreadyStarted rather
// than silently no-op-ing, per SPEC_FULL.md §5's supplemented feature #2.
// Returns ErrRuntimeNotInitialized if called before Init.
func (f *Fiber) Start() error {
	r := currentRuntime()
	if r == nil {
		return ErrRuntimeNotInitialized
	}

	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.started = true
	f.mu.Unlock()

	fcb := r.sched.Spawn(f.priority, f.name, func(fcb *sched.FCB) {
		r.runProtected(f.String(), f.runner.Run)
	})
	fcb.Data = f

	f.mu.Lock()
	f.fcb = fcb
	f.mu.Unlock()

	return nil
}

// requireStarted returns f's FCB, panicking with an error wrapping
// ErrNotStarted if f has never been started. spec.md's join/resume/cancel
// operations assume a well-formed caller already started the target
// fiber; an unstarted target is a programmer error, not a condition the
// cooperative bool-return protocol (Join's cancelled/not-cancelled,
// Suspend's same) has room to report.
func (f *Fiber) requireStarted() *sched.FCB {
	f.mu.Lock()
	fcb := f.fcb
	name := f.name
	f.mu.Unlock()
	if fcb == nil {
		panic(fmt.Errorf("fiber %q: %w", name, ErrNotStarted))
	}
	return fcb
}

// Start is the free-function form of (*Fiber).Start, mirroring spec.md
// §4.5's start(fiber) signature.
func Start(f *Fiber) error { return f.Start() }

// Join suspends the calling fiber until target stops, per spec.md §4.5's
// join(fiber). Returns true on normal completion, false if the calling
// fiber was cancelled while waiting. Panics if called before Init or if
// target was never started.
func Join(f *Fiber) bool {
	r := mustCurrentRuntime()
	return r.sched.Join(f.requireStarted())
}

// Suspend blocks the calling fiber until some other fiber calls Resume on
// it, per spec.md §4.5's suspend_self(). Returns false if the fiber was
// cancelled while suspended.
func Suspend() bool {
	r := mustCurrentRuntime()
	return !r.sched.SuspendSelf()
}

// Resume transitions f to Ready (or memoizes the resume if f is already
// Current), per spec.md §4.5's resume(fiber). Safe to call from an
// I/O-completion or signal callback running on the idle fiber's goroutine.
func Resume(f *Fiber) {
	r := mustCurrentRuntime()
	r.sched.Resume(f.requireStarted())
}

// Yield re-enqueues the calling fiber at its own priority and reschedules,
// per spec.md §4.5's yield_self(); a fiber yields to let any ready fiber
// of equal or higher priority run before it resumes.
func Yield() {
	r := mustCurrentRuntime()
	r.sched.YieldSelf()
}

// Cancel marks f cancelled; if f is currently suspended, wakes it so its
// next suspend-returning call (Suspend, Join, Sleep) observes the flag and
// returns false, per spec.md §4.5's cancel(fiber).
func Cancel(f *Fiber) {
	r := mustCurrentRuntime()
	r.sched.Cancel(f.requireStarted())
}

// Current returns a handle to the fiber that is Current in the scheduler,
// or nil before Init. It does not check which goroutine is calling: a
// goroutine this package never scheduled gets the Current fiber's handle.
func Current() *Fiber {
	r := currentRuntime()
	if r == nil {
		return nil
	}
	fcb := r.sched.Current()
	handle, _ := fcb.Data.(*Fiber)
	return handle
}

// Sleep suspends the calling fiber for approximately seconds, driven by a
// timer the idle fiber's event-loop tick fires, per spec.md §4.5's
// sleep(seconds). Returns false if the fiber was cancelled before the timer
// fired, true otherwise (an early Resume also ends the sleep and returns
// true).
func Sleep(seconds float64) bool {
	r := mustCurrentRuntime()
	self := r.sched.Current()

	if seconds < 0 {
		seconds = 0
	}
	handle := r.loop.ScheduleTimer(time.Duration(seconds*float64(time.Second)), func() {
		r.sched.Resume(self)
	})

	cancelled := r.sched.SuspendSelf()
	r.loop.CancelTimer(handle)
	return !cancelled
}

// EnableSignal arms cb — here, resuming the calling fiber — the next time
// sig is delivered to the process, per spec.md §4.5's enable_signal(sig).
// sig is a raw POSIX signal number (e.g. 2 for SIGINT); non-positive
// values return ErrSignalUnsupported since no platform maps them.
func EnableSignal(sig int) error {
	r := currentRuntime()
	if r == nil {
		return ErrRuntimeNotInitialized
	}
	if sig <= 0 {
		return ErrSignalUnsupported
	}
	self := r.sched.Current()
	r.loop.EnableSignal(syscall.Signal(sig), func() {
		r.sched.Resume(self)
	})
	return nil
}

// DisableSignal removes any subscription EnableSignal installed for sig.
func DisableSignal(sig int) error {
	r := currentRuntime()
	if r == nil {
		return ErrRuntimeNotInitialized
	}
	if sig <= 0 {
		return ErrSignalUnsupported
	}
	r.loop.DisableSignal(syscall.Signal(sig))
	return nil
}

// Runtime is the process-wide fiber scheduler plus the event-loop bridge
// its idle fiber drives, per spec.md §3's Scheduler singleton and §4.4's
// event-loop bridge. There is exactly one per process, installed by Init.
type Runtime struct {
	sched *sched.Scheduler
	loop  *ioloop.Loop
	cfg   *config

	main *Fiber
	idle *Fiber

	errMu sync.Mutex
	err   error
}

var (
	rtMu sync.RWMutex
	rt   *Runtime
)

func currentRuntime() *Runtime {
	rtMu.RLock()
	defer rtMu.RUnlock()
	return rt
}

func mustCurrentRuntime() *Runtime {
	r := currentRuntime()
	if r == nil {
		panic(fmt.Errorf("fiber: %w", ErrRuntimeNotInitialized))
	}
	return r
}

// Init binds the calling goroutine as the main fiber, starts the event
// loop and the idle fiber, and installs the SIGPIPE-ignore of
// SPEC_FULL.md §5. It must be the first call into this package on the
// process, and must be called at most once: the runtime it installs is a
// process-wide singleton for the program's lifetime, matching
// original_source/mys/lib/fiber.cpp's `init()` being called once from
// main().
func Init(opts ...Option) error {
	rtMu.Lock()
	defer rtMu.Unlock()
	if rt != nil {
		return ErrRuntimeAlreadyInitialized
	}

	cfg := resolveOptions(opts)

	loop, err := ioloop.New()
	if err != nil {
		return fmt.Errorf("fiber: starting event loop: %w", err)
	}

	ignoreSIGPIPE()

	s := sched.New()
	mainFCB := s.BindMain()
	mainHandle := &Fiber{name: "main", started: true, fcb: mainFCB}
	mainFCB.Data = mainHandle
	// BindMain acquires the gate on our behalf and leaves it held, matching
	// init()'s contract; release it now that setup is otherwise done, since
	// the caller (running as the main fiber) owns it from here on as an
	// ordinary scheduled fiber, not as a side effect of Init.
	s.Unlock()

	r := &Runtime{sched: s, loop: loop, cfg: cfg, main: mainHandle}

	idleFCB := s.Spawn(idleSchedPriority, "idle", func(fcb *sched.FCB) {
		r.runProtected("idle", func() { r.idleLoop(fcb) })
	})
	idleHandle := &Fiber{name: "idle", started: true, fcb: idleFCB}
	idleFCB.Data = idleHandle
	s.SetIdle(idleFCB)
	r.idle = idleHandle

	rt = r
	return nil
}

// Err returns the error a WithDeadlockPolicy override surfaced by
// returning non-nil, or nil if the idle fiber never tripped its deadlock
// check (or the default abort policy is in effect, which never returns
// control here — it exits the process instead).
func Err() error {
	r := currentRuntime()
	if r == nil {
		return nil
	}
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runtime) setErr(err error) {
	r.errMu.Lock()
	r.err = err
	r.errMu.Unlock()
}

// idleLoop is the idle fiber's body, grounded on original_source/mys/lib/fiber.cpp's
// Idle::run(): drive one event-loop turn, check for deadlock, then yield
// self back into the ready queue forever. It blocks the event-loop turn
// only when the ready queue (excluding itself, since it isn't in the
// queue while Current) is empty — otherwise some user fiber is waiting to
// run and the poll must return immediately.
func (r *Runtime) idleLoop(fcb *sched.FCB) {
	reported := false
	for {
		r.sched.Lock()
		readyEmpty := r.sched.ReadyEmpty()
		r.sched.Unlock()

		r.loop.PollOnceCapped(readyEmpty, r.cfg.pollTimeoutCap)

		r.sched.Lock()
		deadlocked := readyEmpty && r.sched.ReadyEmpty() &&
			r.loop.ActiveHandleCount() == 0 && !r.loop.HasTimers()
		r.sched.Unlock()

		// Report at most once per deadlocked stretch: the idle fiber must
		// keep re-enqueuing itself regardless of what the policy does (I6's
		// "the idle fiber is always present in the rotation" has no carve
		// out for this), so a policy that doesn't os.Exit leaves idle
		// ticking forever rather than retriggering itself every slot.
		if deadlocked && !reported {
			reported = true
			r.logBuilder(CategoryIdle, LevelError).Str("event", "deadlock").Logf("%s", ErrDeadlockMessage)
			if err := r.cfg.deadlockPolicy(ErrDeadlockMessage); err != nil {
				r.setErr(err)
			}
		} else if !deadlocked {
			reported = false
		}

		r.sched.YieldSelf()
	}
}

// runProtected runs fn, recovering any panic per spec.md §4.5's fiber
// thread entry "catch-all that prints a traceback on unhandled error":
// a *sched.InvariantError means a scheduler invariant broke and the
// process aborts, matching internal/sched/errors.go's documented
// recovery-at-boundary contract; any other panic value is reported as a
// PanicError on stderr, followed by the frames of the current traceback
// stack (innermost first), and logged via r's configured logger (any
// WithLogger override for r takes effect here) and the fiber simply stops
// (its STOPPED transition and waiter release already happen
// unconditionally in Scheduler.runFiber once this function returns).
func (r *Runtime) runProtected(name string, fn func()) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if ie, ok := rec.(*sched.InvariantError); ok {
			fmt.Fprintln(os.Stderr, ie.Error())
			os.Exit(1)
		}
		pe := &PanicError{Value: rec, Fiber: name}
		fmt.Fprintln(os.Stderr, pe.Error())
		for _, fr := range traceback.Global.Frames() {
			fmt.Fprintf(os.Stderr, "  %s:%d\n", fr.Frame, fr.Line)
		}
		r.logBuilder(CategoryFiber, LevelError).Str("fiber", name).Err(pe).Log("fiber panicked")
	}()
	fn()
}
