package sched

import (
	"sync"

	"github.com/joeycumines/go-fiber/internal/traceback"
)

// FCB is the fiber control block of spec.md §3/§4.2: the sole unit of
// synchronization granularity the scheduler operates on. One exists per
// fiber (including the distinguished main and idle fibers).
//
// Every field is read/written only while the owning Scheduler's gate is
// held, except Cond itself (touched only via Wait/Signal, which is exactly
// how sync.Cond expects to be used) and the fields documented otherwise.
type FCB struct { //nolint:govet
	// ID is a monotonically increasing identifier, used only for
	// diagnostics (an unnamed started fiber.Fiber prints as "fiber#ID");
	// it has no scheduling significance.
	ID uint64

	// Name is an optional human-readable label (e.g. "main", "idle"),
	// used only for diagnostics.
	Name string

	// Cond is this fiber's wakeup condition variable. The goroutine owning
	// this FCB waits on Cond whenever it is not the running fiber; the
	// scheduler signals it to hand over the gate.
	Cond *sync.Cond

	// Priority ranges 0..127 for user fibers; higher wins; default 0. The
	// idle fiber's FCB carries -1 (fiber's idleSchedPriority), below every
	// user priority, so any ready user fiber is popped before it.
	Priority int

	// Next links this FCB into the ready list (component A). Only valid
	// while State == Ready.
	Next *FCB

	// Waiter is the head of the intrusive stack of fibers blocked in Join
	// on this fiber (spec.md §9 "intrusive waiter stack"); each waiter's
	// own Waiter field points to the next, per the documented FIFO-release
	// open-question resolution.
	Waiter *FCB

	// Traceback is this fiber's saved traceback top/bottom pair (§4.6),
	// snapshotted/restored by the scheduler on every swap.
	Traceback *traceback.Stack

	// Data is an opaque pointer for the owning language layer (here: the
	// *fiber.Fiber wrapping this FCB). The scheduler never dereferences
	// it.
	Data any

	state     State
	started   bool
	cancelled bool
}

// NewFCB allocates an FCB in its construction-contract state (spec.md
// §4.2): Suspended, priority zero, no waiters, cond bound to mu.
func NewFCB(id uint64, mu *sync.Mutex) *FCB {
	return &FCB{
		ID:        id,
		Cond:      sync.NewCond(mu),
		Priority:  0,
		Traceback: traceback.New(),
		state:     Suspended,
	}
}

// State returns the fiber's current state. Callers must hold the gate.
func (f *FCB) State() State { return f.state }
