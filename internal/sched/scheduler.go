package sched

import (
	"sync"

	"github.com/joeycumines/go-fiber/internal/traceback"
)

// Scheduler is the singleton of spec.md §3: it owns the gate mutex, the
// current-fiber pointer, and the priority-ordered ready list, and exposes
// the three primitives of §4.3 (reschedule/suspend/resume plus yield).
//
// Grounded on original_source/mys/lib/fiber.cpp's Scheduler struct; the
// uv_mutex_t gate becomes a sync.Mutex, and sync.Cond (one per FCB) stands
// in for each fiber's uv_cond_t + parked uv_thread_t.
type Scheduler struct {
	mu      sync.Mutex
	ready   readyQueue
	current *FCB
	nextID  uint64

	main *FCB
	idle *FCB
}

// New returns a Scheduler with no fibers yet; callers must call BindMain
// before anything else, matching init()'s contract that the calling OS
// thread becomes the main fiber.
func New() *Scheduler {
	return &Scheduler{}
}

// nextFCB allocates a fresh FCB bound to the gate mutex.
func (s *Scheduler) nextFCB() *FCB {
	s.nextID++
	return NewFCB(s.nextID, &s.mu)
}

// BindMain binds the calling goroutine as the main fiber: it allocates the
// main FCB, acquires the gate, and marks it Current, matching init()'s
// `scheduler.current_p = main; state = CURRENT` with the gate already held
// by the calling thread. The caller must not call any other Scheduler method
// before this returns.
func (s *Scheduler) BindMain() *FCB {
	s.mu.Lock()
	main := s.nextFCB()
	main.Name = "main"
	main.state = Current
	main.Traceback = traceback.New()
	traceback.Snapshot(main.Traceback)
	s.current = main
	s.main = main
	return main
}

// Spawn allocates an FCB at the given priority and starts a goroutine that
// runs body once it becomes Current for the first time, matching
// start_fiber_main's wait-until-scheduled prologue. The FCB is pushed Ready
// immediately (equivalent to start_detailed's scheduler.resume(fiber_p)).
//
// body runs while its fiber is Current but with the gate mutex released:
// runFiber unlocks it before calling body and locks it again after body
// returns, so body must not hold the mutex when it returns. Other fibers
// stay parked on their own condition variables while body runs; the mutex
// itself does not exclude them during that time. body must eventually call
// Reschedule-family operations (directly or via the fiber public API) to
// ever yield control; on body's return the goroutine launched here
// transitions the FCB to Stopped and reschedules.
func (s *Scheduler) Spawn(priority int, name string, body func(fcb *FCB)) *FCB {
	s.mu.Lock()
	fcb := s.nextFCB()
	fcb.Name = name
	fcb.Priority = priority
	s.mu.Unlock()

	go s.runFiber(fcb, body)

	s.mu.Lock()
	s.resumeLocked(fcb)
	s.mu.Unlock()

	return fcb
}

// runFiber is the fiber goroutine entry point, grounded on fiber.cpp's
// start_fiber_main: lock the gate, wait until scheduled, run body, then
// transition to Stopped, release waiters, and reschedule away permanently.
func (s *Scheduler) runFiber(fcb *FCB, body func(fcb *FCB)) {
	s.mu.Lock()
	for fcb.state != Current {
		fcb.Cond.Wait()
	}
	fcb.started = true
	// First activation: swap left the global traceback holding whatever
	// fiber scheduled us, not our own. Install our fresh stack, mirroring
	// start_fiber_main's __MYS_TRACEBACK_INIT()-then-store.
	traceback.Restore(fcb.Traceback)
	s.mu.Unlock()

	body(fcb)

	s.mu.Lock()
	fcb.state = Stopped

	// The waiter chain is built by prepending (Join pushes the joining
	// fiber onto the head), so fcb.Waiter is the most recently joined
	// fiber. spec.md §4.5/§9 requires releasing in join (FIFO) order, so
	// reverse the chain before resuming each entry.
	var reversed *FCB
	waiter := fcb.Waiter
	for waiter != nil {
		next := waiter.Waiter
		waiter.Waiter = reversed
		reversed = waiter
		waiter = next
	}
	for reversed != nil {
		next := reversed.Waiter
		s.resumeLocked(reversed)
		reversed = next
	}

	fcb.Waiter = nil
	s.rescheduleLocked(fcb)
}

// Current returns the fiber that is Current. It acquires the gate itself,
// so the caller must not already hold it.
func (s *Scheduler) Current() *FCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Lock acquires the gate. Exposed for callers outside this package (the
// idle fiber driving the event loop, Init releasing BindMain's hold) that need to manipulate
// scheduler-adjacent state atomically with a reschedule but aren't
// themselves one of the three core primitives.
func (s *Scheduler) Lock() { s.mu.Lock() }

// Unlock releases the gate.
func (s *Scheduler) Unlock() { s.mu.Unlock() }

// swap hands both the Current designation and the gate from out to in,
// per spec.md §4.3/§5. Must be called with the gate held and in already
// popped from the ready list with state set to Current.
func (s *Scheduler) swap(in, out *FCB) {
	traceback.Snapshot(out.Traceback)
	// Signal the incoming fiber to start; it will acquire the gate once
	// its own Wait() (in runFiber, or right here on its next swap-out)
	// returns. Then park the outgoing fiber on its own condition
	// variable, releasing the gate, until it is signaled again by some
	// future swap that makes it "in". sync.Cond.Wait unlocks before
	// parking and reacquires before returning, which is exactly the
	// mutex hand-off spec.md §5 calls the critical correctness property:
	// there is one window, between the Signal above and the Wait below
	// returning, in which both goroutines are between signal and
	// reacquire, and the mutex serializes them through it.
	in.Cond.Signal()
	out.Cond.Wait()
	traceback.Restore(out.Traceback)
}

// Reschedule is the primitive of spec.md §4.3: precondition the gate is
// held by the Current fiber's goroutine and that fiber's state is no longer
// Current (the caller already set it to Suspended or Ready). Postcondition:
// the caller's goroutine is blocked on its own condition variable and some
// other fiber is running with the gate held.
func (s *Scheduler) Reschedule() {
	s.rescheduleLocked(s.current)
}

// rescheduleLocked is Reschedule's gate-already-held entry point, used by
// runFiber after it has already mutated fcb.state. caller is not used: the
// outgoing fiber is always taken from s.current, which at every call site
// is the caller (for runFiber, still the stopping fiber).
func (s *Scheduler) rescheduleLocked(caller *FCB) {
	in := s.ready.pop()
	in.state = Current
	out := s.current

	if in == out {
		// Fast path: a self-ready fiber (e.g. the idle fiber re-enqueuing
		// itself and immediately popping itself back off when nothing
		// else is Ready) — no swap needed.
		return
	}

	s.current = in
	s.swap(in, out)
	_ = caller
}

// SuspendSelf blocks the Current fiber until some other party (Resume, I/O
// completion, signal, timer, join release) transitions it back to Ready.
// Returns whether the fiber was cancelled while suspended (spec.md §4.5/§7).
func (s *Scheduler) SuspendSelf() (cancelled bool) {
	s.mu.Lock()
	self := s.current
	self.state = Suspended
	s.rescheduleLocked(self)
	cancelled = self.cancelled
	self.cancelled = false
	s.mu.Unlock()
	return cancelled
}

// resumeLocked is Resume's gate-already-held entry point, per spec.md §4.3:
// Suspended -> Ready+enqueue; Current -> Resumed (memoized); Ready/Stopped
// -> no-op (idempotent, P5).
func (s *Scheduler) resumeLocked(fcb *FCB) {
	switch fcb.state {
	case Suspended:
		fcb.state = Ready
		s.ready.push(fcb)
	case Current:
		fcb.state = Resumed
	case Ready, Stopped:
		// no-op
	}
}

// Resume implements spec.md §4.5's resume(fiber): always safe to call from
// within an I/O-completion callback running on the idle fiber's goroutine,
// which holds the gate at that point.
func (s *Scheduler) Resume(fcb *FCB) {
	s.mu.Lock()
	s.resumeLocked(fcb)
	s.mu.Unlock()
}

// YieldSelf implements spec.md §4.3's yield_self: if a Resume was memoized
// while this fiber was already Current, clear it and return immediately
// (the resume already "woke" it). Otherwise re-enqueue self and reschedule.
func (s *Scheduler) YieldSelf() {
	s.mu.Lock()
	self := s.current
	if self.state == Resumed {
		self.state = Current
		s.mu.Unlock()
		return
	}
	self.state = Ready
	s.ready.push(self)
	s.rescheduleLocked(self)
	s.mu.Unlock()
}

// Cancel marks fcb cancelled; if it is Suspended, wakes it so its next
// suspend-returning call observes the flag (spec.md §4.5). No-op on a
// Stopped fiber.
func (s *Scheduler) Cancel(fcb *FCB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fcb.state == Stopped {
		return
	}
	fcb.cancelled = true
	if fcb.state == Suspended {
		s.resumeLocked(fcb)
	}
}

// Join pushes the calling fiber onto target's waiter chain and suspends,
// unless target has already stopped. Returns true on normal completion,
// false if cancelled (spec.md §4.5).
func (s *Scheduler) Join(target *FCB) bool {
	s.mu.Lock()
	if target.state == Stopped {
		s.mu.Unlock()
		return true
	}
	self := s.current
	self.Waiter = target.Waiter
	target.Waiter = self
	self.state = Suspended
	s.rescheduleLocked(self)
	cancelled := self.cancelled
	self.cancelled = false
	s.mu.Unlock()
	return !cancelled
}

// ReadyEmpty reports whether the ready list has no entries. The caller must
// hold the gate; used by the idle fiber's deadlock check (spec.md §4.4).
func (s *Scheduler) ReadyEmpty() bool {
	return s.ready.empty()
}

// SetIdle records the idle fiber's FCB, for diagnostics only.
func (s *Scheduler) SetIdle(fcb *FCB) { s.idle = fcb }

// Main returns the main fiber's FCB.
func (s *Scheduler) Main() *FCB { return s.main }

// Idle returns the idle fiber's FCB.
func (s *Scheduler) Idle() *FCB { return s.idle }
