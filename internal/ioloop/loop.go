package ioloop

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Loop is the event-loop bridge of spec.md §4.4: one poller, one timer
// heap, and the signal plumbing the idle fiber drives exactly once per
// schedule slot via PollOnce.
//
// Every exported method must only be called by whichever goroutine
// currently holds the fiber scheduler's gate — in practice, always the
// idle fiber. The signal-forwarding goroutine, the one genuinely
// concurrent caller, reaches the loop only through the signal queue and
// the poller's internal wake.
type Loop struct {
	poller poller
	timers timerHeap

	nextTimerSeq uint64

	sigMu        sync.Mutex
	sigCh        chan os.Signal
	sigCallbacks map[syscall.Signal][]func()
	pendingSigs  []syscall.Signal
}

// New constructs a Loop and wires its native poller, grounded on
// eventloop.New: the poller owns its own wake mechanism (eventfd,
// self-pipe, or PostQueuedCompletionStatus, depending on platform), so
// construction here is just "create the poller, start the signal
// forwarder."
func New() (*Loop, error) {
	l := &Loop{
		poller:       newPoller(),
		timers:       make(timerHeap, 0),
		sigCh:        make(chan os.Signal, 8),
		sigCallbacks: make(map[syscall.Signal][]func()),
	}

	if err := l.poller.init(); err != nil {
		return nil, err
	}

	go l.forwardSignals()

	return l, nil
}

// Close tears down the poller and stops signal delivery. The caller must
// already have stopped relying on the loop (e.g. the idle fiber has
// stopped).
func (l *Loop) Close() error {
	signal.Stop(l.sigCh)
	close(l.sigCh)
	return l.poller.close()
}

// RegisterFD registers fd for I/O readiness notifications, delivered to cb
// on a future PollOnce.
func (l *Loop) RegisterFD(fd int, events IOEvents, cb Callback) error {
	return l.poller.registerFD(fd, events, cb)
}

// UnregisterFD stops monitoring fd.
func (l *Loop) UnregisterFD(fd int) error {
	return l.poller.unregisterFD(fd)
}

// ModifyFD changes the event mask fd is monitored for.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.modifyFD(fd, events)
}

// ActiveHandleCount reports the number of I/O descriptors currently
// registered (never counting the poller's own internal wake mechanism).
// The idle fiber's deadlock check (spec.md §4.4) uses this alongside
// HasTimers: if the ready queue holds only the idle fiber and both are
// zero, no event can ever arrive to resume anything.
func (l *Loop) ActiveHandleCount() int {
	return l.poller.count()
}

// HasTimers reports whether a live (non-cancelled) timer is still armed.
func (l *Loop) HasTimers() bool {
	return l.hasTimers()
}

// EnableSignal registers cb to run on the idle fiber's goroutine the next
// time sig is delivered to the process, per spec.md §4.5's enable_signal.
// The first registration for a given signal installs an os/signal.Notify
// subscription; it is removed by DisableSignal.
func (l *Loop) EnableSignal(sig syscall.Signal, cb func()) {
	l.sigMu.Lock()
	defer l.sigMu.Unlock()
	if len(l.sigCallbacks[sig]) == 0 {
		signal.Notify(l.sigCh, sig)
	}
	l.sigCallbacks[sig] = append(l.sigCallbacks[sig], cb)
}

// DisableSignal removes every callback registered for sig and stops
// delivering it to this loop.
func (l *Loop) DisableSignal(sig syscall.Signal) {
	l.sigMu.Lock()
	defer l.sigMu.Unlock()
	delete(l.sigCallbacks, sig)
	signal.Stop(l.sigCh)
	for s := range l.sigCallbacks {
		signal.Notify(l.sigCh, s)
	}
}

// forwardSignals runs on its own goroutine for the lifetime of the Loop,
// translating OS signal delivery (which Go always delivers on an internal
// runtime goroutine, never synchronously) into a queued entry plus a
// poller wake, grounded on the teacher's wake-pipe pattern: the only way
// to break a blocked epoll/kqueue/IOCP wait from outside the polling
// goroutine.
func (l *Loop) forwardSignals() {
	for sig := range l.sigCh {
		if s, ok := sig.(syscall.Signal); ok {
			l.sigMu.Lock()
			l.pendingSigs = append(l.pendingSigs, s)
			l.sigMu.Unlock()
			l.poller.wake()
		}
	}
}

// drainSignals invokes every callback registered for each signal that
// arrived since the last PollOnce. Called only from PollOnce, so it always
// runs on the gate-holding goroutine.
func (l *Loop) drainSignals() {
	l.sigMu.Lock()
	pending := l.pendingSigs
	l.pendingSigs = nil
	l.sigMu.Unlock()

	for _, sig := range pending {
		l.sigMu.Lock()
		cbs := append([]func(){}, l.sigCallbacks[sig]...)
		l.sigMu.Unlock()
		for _, cb := range cbs {
			cb()
		}
	}
}

// PollOnce drives exactly one iteration of the event loop, per spec.md
// §4.4's "one schedule slot, one loop turn": it computes the poll deadline
// from the next timer, polls I/O, fires due timers, then delivers any
// signals that arrived meanwhile. With no timer armed a blocking PollOnce
// waits until I/O or a wake arrives; PollOnceCapped adds an upper bound.
//
// block controls whether the poll may wait at all: the idle fiber passes
// true only when it has verified (spec.md §4.4's deadlock check) that
// blocking is actually safe. Equivalent to PollOnceCapped(block, 0): no
// cap beyond whatever timer is armed.
func (l *Loop) PollOnce(block bool) {
	l.PollOnceCapped(block, 0)
}

// PollOnceCapped is PollOnce with an upper bound on how long a block may
// last even when no timer is armed (fiber.WithPollTimeout): a zero cap
// means no bound beyond the next timer deadline.
func (l *Loop) PollOnceCapped(block bool, maxBlock time.Duration) {
	timeoutMs := 0
	if block {
		timeoutMs = -1
		if maxBlock > 0 {
			timeoutMs = int(maxBlock / time.Millisecond)
			if timeoutMs == 0 {
				timeoutMs = 1
			}
		}
		if when, ok := l.nextTimerDeadline(); ok {
			d := time.Until(when)
			if d <= 0 {
				timeoutMs = 0
			} else {
				ms := int(d / time.Millisecond)
				if ms == 0 {
					ms = 1
				}
				if timeoutMs < 0 || ms < timeoutMs {
					timeoutMs = ms
				}
			}
		}
	}

	_, _ = l.poller.poll(timeoutMs)

	l.runTimers(time.Now())
	l.drainSignals()
}
