// Package fiber provides a cooperative fiber runtime: one goroutine per
// fiber, at most one runnable at a time, switched by a priority-ordered
// scheduler built on a single gate mutex and per-fiber condition
// variables.
//
// # Architecture
//
// The runtime is built around a [Runtime] that owns the scheduler (ready
// queue, fiber control blocks, the gate) and the event-loop bridge (timer
// heap plus a platform-native I/O poller) described in spec.md §4. A
// dedicated, lowest-effective-priority "idle" fiber drives one iteration
// of the event loop per schedule slot and translates completions into
// [Resume] calls, which is the only place asynchronous I/O becomes
// synchronous-looking fiber code.
//
// # Platform support
//
// The event-loop bridge uses platform-native polling:
//   - Linux: epoll
//   - Darwin: kqueue
//   - Windows: IOCP (timers and Sleep only; per-fd readiness is
//     unsupported, see internal/ioloop's Windows poller)
//   - other: a bounded-sleep fallback (timers and Sleep still work)
//
// # Concurrency model
//
// At any instant, at most one goroutine is outside its condition
// variable's wait — the CURRENT fiber. All scheduling is cooperative
// despite using goroutines as the context-switch mechanism: goroutines
// give a portable, stack-preserving continuation without resorting to
// platform-specific assembly, exactly as the runtime this package is
// modeled on uses one OS thread per fiber for the same reason.
//
// # Suspension points
//
// Exactly [Suspend], [Yield], [Join], [Sleep], and any I/O primitive that
// registers with the event loop and then reschedules. No other code
// suspends a fiber.
package fiber
