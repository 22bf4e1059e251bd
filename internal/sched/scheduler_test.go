package sched

import (
	"sync"
	"testing"
)

// newBoundScheduler returns a Scheduler with the calling goroutine bound as
// main, gate released, matching the BindMain-then-Unlock prologue every
// fiber.Init call performs.
func newBoundScheduler(t *testing.T) (*Scheduler, *FCB) {
	t.Helper()
	s := New()
	main := s.BindMain()
	s.Unlock()
	return s, main
}

// TestSpawnRunsBodyAndJoinObservesCompletion covers the Spawn/runFiber
// prologue and Join's normal-completion path (spec.md §4.2/§4.5).
func TestSpawnRunsBodyAndJoinObservesCompletion(t *testing.T) {
	s, _ := newBoundScheduler(t)

	ran := false
	fcb := s.Spawn(0, "worker", func(*FCB) {
		ran = true
	})

	if !s.Join(fcb) {
		t.Fatal("Join reported cancelled, want normal completion")
	}
	if !ran {
		t.Fatal("spawned body never ran")
	}
	if fcb.State() != Stopped {
		t.Fatalf("state = %s, want STOPPED", fcb.State())
	}
}

// TestJoinOnAlreadyStoppedFiberReturnsImmediately covers Join's fast path: a
// target that has already stopped by the time Join is called must not
// suspend the caller at all.
func TestJoinOnAlreadyStoppedFiberReturnsImmediately(t *testing.T) {
	s, main := newBoundScheduler(t)

	fcb := s.Spawn(0, "quick", func(*FCB) {})
	if !s.Join(fcb) {
		t.Fatal("first join reported cancelled")
	}

	if main.State() != Current {
		t.Fatalf("main state = %s, want CURRENT before second join", main.State())
	}
	if !s.Join(fcb) {
		t.Fatal("joining an already-stopped fiber should still report normal completion")
	}
}

// TestPriorityOrderingAcrossSpawns reproduces spec.md §8 scenario 2 at the
// scheduler layer: a higher-priority fiber, once ready, always wins the next
// reschedule over a lower-priority one still yielding in a loop.
func TestPriorityOrderingAcrossSpawns(t *testing.T) {
	s, _ := newBoundScheduler(t)

	var mu sync.Mutex
	var log []string
	record := func(name string) {
		mu.Lock()
		log = append(log, name)
		mu.Unlock()
	}

	const lIterations = 10
	const hIterations = 4

	l := s.Spawn(0, "L", func(fcb *FCB) {
		for i := 0; i < lIterations; i++ {
			record("L")
			s.YieldSelf()
		}
	})

	// Give L exactly one turn before H exists: main's own YieldSelf pushes
	// main behind the already-ready L, so L runs to its own YieldSelf
	// before this call returns (no preemption exists in this scheduler).
	s.YieldSelf()

	h := s.Spawn(10, "H", func(fcb *FCB) {
		for i := 0; i < hIterations; i++ {
			record("H")
			s.YieldSelf()
		}
	})

	if !s.Join(h) {
		t.Fatal("join(h) reported cancelled")
	}
	if !s.Join(l) {
		t.Fatal("join(l) reported cancelled")
	}

	mu.Lock()
	defer mu.Unlock()

	firstH := -1
	for i, entry := range log {
		if entry == "H" {
			firstH = i
			break
		}
	}
	if firstH == -1 {
		t.Fatalf("H never ran: %v", log)
	}
	if firstH+hIterations > len(log) {
		t.Fatalf("not enough entries after H started: %v", log)
	}
	for i := 0; i < hIterations; i++ {
		if log[firstH+i] != "H" {
			t.Fatalf("slot %d after H started: want H, got %s (full log %v)", i, log[firstH+i], log)
		}
	}
}

// TestCancelWakesSuspendedFiber covers Cancel's resume-and-flag path: a
// Suspended fiber is woken, and its SuspendSelf call reports cancellation.
func TestCancelWakesSuspendedFiber(t *testing.T) {
	s, _ := newBoundScheduler(t)

	result := make(chan bool, 1)
	target := s.Spawn(0, "target", func(fcb *FCB) {
		result <- s.SuspendSelf()
	})

	// Deterministic: target runs to its own SuspendSelf before this Yield
	// returns, since there is no preemption.
	s.YieldSelf()

	s.Cancel(target)

	if !s.Join(target) {
		t.Fatal("join(target) reported cancelled")
	}

	select {
	case cancelled := <-result:
		if !cancelled {
			t.Fatal("SuspendSelf reported normal completion, want cancellation")
		}
	default:
		t.Fatal("target never returned from SuspendSelf")
	}
}

// TestCancelOnStoppedFiberIsANoOp covers the documented no-op branch: Cancel
// must not panic or otherwise misbehave once the target has already stopped.
func TestCancelOnStoppedFiberIsANoOp(t *testing.T) {
	s, _ := newBoundScheduler(t)

	fcb := s.Spawn(0, "quick", func(*FCB) {})
	s.Join(fcb)

	s.Cancel(fcb) // must not panic
	if fcb.State() != Stopped {
		t.Fatalf("state = %s, want STOPPED", fcb.State())
	}
}

// TestResumeWhileCurrentIsMemoized covers the Resumed transient state
// (spec.md §4.3): a resume arriving for the fiber that is already Current is
// memoized and consumed by that fiber's next YieldSelf, which returns
// immediately rather than actually suspending.
func TestResumeWhileCurrentIsMemoized(t *testing.T) {
	s, main := newBoundScheduler(t)

	s.Resume(main)
	if main.State() != Resumed {
		t.Fatalf("state = %s, want RESUMED", main.State())
	}

	s.YieldSelf()
	if main.State() != Current {
		t.Fatalf("state after YieldSelf = %s, want CURRENT", main.State())
	}
}

// TestJoinReleasesAllWaitersInFIFOOrder covers the documented open-question
// resolution (spec.md §9): every waiter on a stopping fiber is resumed, in
// the order it joined, not just the first.
func TestJoinReleasesAllWaitersInFIFOOrder(t *testing.T) {
	s, _ := newBoundScheduler(t)

	target := s.Spawn(0, "target", func(fcb *FCB) {
		s.SuspendSelf()
	})
	// Let target reach its own suspension point before anyone joins it.
	s.YieldSelf()

	var mu sync.Mutex
	var order []string
	const waiters = 3
	done := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		name := string(rune('a' + i))
		s.Spawn(0, name, func(fcb *FCB) {
			s.Join(target)
			mu.Lock()
			order = append(order, fcb.Name)
			mu.Unlock()
			done <- struct{}{}
		})
	}
	// Every waiter fiber above runs up to its own Join-induced suspension
	// before this Yield returns (no preemption), so target now has exactly
	// three entries on its waiter chain, in spawn order.
	s.YieldSelf()

	s.Resume(target) // target's SuspendSelf returns, its body ends, Stopped releases waiters
	s.Join(target)

	for i := 0; i < waiters; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != waiters {
		t.Fatalf("released %d waiters, want %d: %v", len(order), waiters, order)
	}
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("release order = %v, want %v", order, want)
		}
	}
}
