package ioloop

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerHeapFiresInOrder(t *testing.T) {
	l := &Loop{timers: make(timerHeap, 0)}

	var fired []string
	base := time.Now()

	// Seed directly rather than through ScheduleTimer, which stamps "when"
	// from time.Now(): deterministic offsets make the ordering assertion
	// exact instead of racing the clock.
	seed := func(offset time.Duration, name string) {
		l.nextTimerSeq++
		heap.Push(&l.timers, &timer{
			when: base.Add(offset),
			seq:  l.nextTimerSeq,
			cb:   func() { fired = append(fired, name) },
		})
	}

	seed(30*time.Millisecond, "third")
	seed(10*time.Millisecond, "first")
	seed(20*time.Millisecond, "second")

	l.runTimers(base.Add(25 * time.Millisecond))
	assert.Equal(t, []string{"first", "second"}, fired)

	l.runTimers(base.Add(100 * time.Millisecond))
	assert.Equal(t, []string{"first", "second", "third"}, fired)
}

func TestTimerCancelIsSkippedLazily(t *testing.T) {
	l := &Loop{timers: make(timerHeap, 0)}

	fired := false
	h := l.ScheduleTimer(time.Millisecond, func() { fired = true })
	l.CancelTimer(h)

	l.runTimers(time.Now().Add(time.Hour))
	assert.False(t, fired)
	assert.False(t, l.hasTimers())
}

func TestNextTimerDeadlineSkipsCancelledHead(t *testing.T) {
	l := &Loop{timers: make(timerHeap, 0)}

	h1 := l.ScheduleTimer(time.Millisecond, func() {})
	l.CancelTimer(h1)
	l.ScheduleTimer(time.Hour, func() {})

	_, ok := l.nextTimerDeadline()
	assert.True(t, ok)
	assert.Equal(t, 1, len(l.timers))
}
