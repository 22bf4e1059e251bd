package sched

import "fmt"

// InvariantError signals a scheduler invariant violation (spec.md §4.7):
// these are programmer errors, never recoverable, and are reported by
// panicking at the point of detection. The fiber package's top-level runner
// recovers exactly one of these per goroutine, prints it to stderr, and
// aborts the process — it never lets one propagate as an ordinary error.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("sched: invariant violation: %s", e.Message)
}
