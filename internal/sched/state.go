// Package sched implements the fiber scheduler core described in spec.md
// §4.1–§4.3: the priority-ordered ready queue (A), the fiber control block
// (B), and the scheduler (C) that owns the gate mutex and the swap/reschedule
// primitives.
//
// Grounded on original_source/mys/lib/fiber.cpp's Scheduler/SchedulerFiber,
// translated from uv_mutex_t/uv_cond_t/uv_thread_t to sync.Mutex/sync.Cond
// and a goroutine per fiber, per SPEC_FULL.md §2.
package sched

// State is the fiber state enum of spec.md §3. Exactly these five values
// exist; a fiber transitions out of Stopped never (I5).
type State int

const (
	// Suspended: not runnable, not on any ready queue, not executing.
	Suspended State = iota
	// Ready: runnable, on the ready queue.
	Ready
	// Current: currently executing. Exactly zero or one fiber is Current
	// at any instant (I1).
	Current
	// Resumed: transient marker for a resume() that arrived while the
	// target was neither Suspended nor Ready (i.e. it was Current). Only
	// YieldSelf consumes this memoization (clearing it and returning
	// immediately instead of truly rescheduling); SuspendSelf does not
	// check it and suspends unconditionally, matching fiber.cpp's
	// suspend(), which doesn't check either.
	Resumed
	// Stopped: the fiber's entry function has returned or unwound; it may
	// still be joined. Terminal (I5).
	Stopped
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "SUSPENDED"
	case Ready:
		return "READY"
	case Current:
		return "CURRENT"
	case Resumed:
		return "RESUMED"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
