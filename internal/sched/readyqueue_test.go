package sched

import "testing"

func namedFCB(name string, priority int) *FCB {
	return &FCB{Name: name, Priority: priority}
}

// TestReadyQueuePushPopOrdering covers I3: descending priority, FIFO within a
// tie, grounded on fiber.cpp's ready_push/ready_pop walk.
func TestReadyQueuePushPopOrdering(t *testing.T) {
	var q readyQueue

	low1 := namedFCB("low1", 0)
	low2 := namedFCB("low2", 0)
	high := namedFCB("high", 10)
	mid := namedFCB("mid", 5)

	q.push(low1)
	q.push(low2)
	q.push(high)
	q.push(mid)

	want := []*FCB{high, mid, low1, low2}
	for i, w := range want {
		got := q.pop()
		if got != w {
			t.Fatalf("pop %d: want %s, got %s", i, w.Name, got.Name)
		}
	}
	if !q.empty() {
		t.Fatal("queue should be empty after draining every pushed entry")
	}
}

// TestReadyQueuePopEmptyPanics covers the I6 backstop: popping an empty list
// is a fatal programmer error (the idle fiber must always be present), not a
// recoverable nil/ok return.
func TestReadyQueuePopEmptyPanics(t *testing.T) {
	var q readyQueue

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("pop of an empty queue did not panic")
		}
		if _, ok := r.(*InvariantError); !ok {
			t.Fatalf("recovered %T, want *InvariantError", r)
		}
	}()

	q.pop()
}

// TestReadyQueuePushInterleavedPriorities covers insertion at the head, in
// the middle, and at the tail against a non-trivial existing list.
func TestReadyQueuePushInterleavedPriorities(t *testing.T) {
	var q readyQueue

	a := namedFCB("a", 5)
	b := namedFCB("b", 5)
	q.push(a)
	q.push(b)

	head := namedFCB("head", 9)
	q.push(head)

	tail := namedFCB("tail", 1)
	q.push(tail)

	want := []string{"head", "a", "b", "tail"}
	for _, name := range want {
		got := q.pop()
		if got.Name != name {
			t.Fatalf("want %s next, got %s", name, got.Name)
		}
	}
}
