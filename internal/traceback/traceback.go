// Package traceback implements the per-fiber call-site stack described in
// spec.md §4.6: a doubly-linked list of entries pushed on function entry and
// popped on exit by generated code, with a global top/bottom pair that the
// scheduler swaps atomically with the running fiber.
//
// Grounded on original_source/mys/lib/mys/traceback.hpp (TracebackEntry) and
// the swap discipline in original_source/mys/lib/fiber.cpp's Scheduler::swap.
package traceback

// Entry is one call-site record in a fiber's traceback stack.
//
// Frame and Line carry whatever the generated/instrumented code wants to
// report; the runtime itself only needs the Next/Prev links to maintain the
// stack and to snapshot/restore the top and bottom pointers on a fiber swap.
type Entry struct {
	Frame string
	Line  int
	Next  *Entry
	Prev  *Entry
}

// Stack is one fiber's traceback list plus the two pointers the scheduler
// snapshots on every context switch.
type Stack struct {
	top    *Entry
	bottom *Entry
}

// New returns an empty stack, equivalent to __MYS_TRACEBACK_INIT: the
// sentinel bottom entry is both top and bottom until the first Push.
func New() *Stack {
	sentinel := &Entry{}
	return &Stack{top: sentinel, bottom: sentinel}
}

// Push enters a new call site, equivalent to __MYS_TRACEBACK_ENTER.
func (s *Stack) Push(frame string, line int) *Entry {
	e := &Entry{Frame: frame, Line: line, Prev: s.top}
	s.top.Next = e
	s.top = e
	return e
}

// Pop leaves the call site pushed most recently, equivalent to
// __MYS_TRACEBACK_EXIT. It is the caller's responsibility to pop the exact
// entry it pushed (generated code does this via scope-exit discipline).
func (s *Stack) Pop(e *Entry) {
	s.top = e.Prev
}

// Top returns the most recently pushed entry, or nil if the stack is empty.
func (s *Stack) Top() *Entry {
	if s.top == s.bottom {
		return nil
	}
	return s.top
}

// Frames returns the call chain from innermost to outermost, for printing a
// diagnostic traceback when a fiber's run() unwinds with an unhandled error.
func (s *Stack) Frames() []Entry {
	var out []Entry
	for e := s.top; e != nil && e != s.bottom; e = e.Prev {
		out = append(out, *e)
	}
	return out
}

// Global holds the process-wide "current traceback" pointers. Exactly one
// fiber's Stack is ever installed here: the CURRENT fiber's. The scheduler
// swaps it out for the outgoing fiber and in for the incoming one, on every
// reschedule, so call sites never need to know which fiber they're running
// on.
var Global = New()

// Snapshot captures the process-wide traceback pointers into dst. Called by
// the scheduler immediately before signaling the incoming fiber, so the
// outgoing fiber's in-flight call stack survives the swap.
func Snapshot(dst *Stack) {
	dst.top = Global.top
	dst.bottom = Global.bottom
}

// Restore installs src as the process-wide traceback pointers. Called by the
// scheduler immediately after the incoming fiber's goroutine wakes, so
// subsequent traceback pushes/pops apply to the now-CURRENT fiber's stack.
func Restore(src *Stack) {
	Global.top = src.top
	Global.bottom = src.bottom
}
