package ioloop

import (
	"container/heap"
	"time"
)

// timer is one entry in the timer heap backing Sleep (spec.md §4.5) and any
// other deadline the idle fiber needs to wake something on.
//
// cancelled supports lazy deletion: CancelTimer flips the flag rather than
// searching the heap for the entry, and runTimers skips cancelled entries
// when it pops them. This is an addition the teacher's timerHeap doesn't
// need (eventloop timers are never individually cancelled, only the whole
// loop is shut down); Sleep does need it, since a slept fiber can be
// cancelled or resumed early by another fiber.
type timer struct {
	when      time.Time
	seq       uint64
	cb        func()
	cancelled bool
}

// timerHeap is a min-heap of timers ordered by fire time, grounded on
// eventloop/loop.go's timerHeap: identical Len/Less/Swap/Push/Pop shape,
// container/heap.
type timerHeap []*timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// TimerHandle identifies a scheduled timer so it can be cancelled.
type TimerHandle struct {
	t *timer
}

// ScheduleTimer arms cb to run after d, driven by the idle fiber's next
// poll iterations (spec.md §4.5's sleep()). Returns a handle usable with
// CancelTimer.
func (l *Loop) ScheduleTimer(d time.Duration, cb func()) TimerHandle {
	l.nextTimerSeq++
	t := &timer{when: time.Now().Add(d), seq: l.nextTimerSeq, cb: cb}
	heap.Push(&l.timers, t)
	return TimerHandle{t: t}
}

// CancelTimer marks a previously scheduled timer so it will not fire. It is
// a no-op if the timer has already fired or been cancelled.
func (l *Loop) CancelTimer(h TimerHandle) {
	if h.t != nil {
		h.t.cancelled = true
	}
}

// nextTimerDeadline reports the time of the earliest live timer, and
// whether one exists, skipping (and discarding) any cancelled entries at
// the top of the heap.
func (l *Loop) nextTimerDeadline() (time.Time, bool) {
	for len(l.timers) > 0 && l.timers[0].cancelled {
		heap.Pop(&l.timers)
	}
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].when, true
}

// runTimers pops and invokes every timer due at or before now.
func (l *Loop) runTimers(now time.Time) {
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.cancelled {
			heap.Pop(&l.timers)
			continue
		}
		if t.when.After(now) {
			break
		}
		heap.Pop(&l.timers)
		t.cb()
	}
}

// hasTimers reports whether any live timer remains.
func (l *Loop) hasTimers() bool {
	_, ok := l.nextTimerDeadline()
	return ok
}
