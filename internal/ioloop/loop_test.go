//go:build linux || darwin

package ioloop

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopPollOnceDeliversFDReadiness(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	fired := make(chan IOEvents, 1)
	require.NoError(t, l.RegisterFD(int(r.Fd()), EventRead, func(ev IOEvents) { fired <- ev }))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	l.PollOnce(true)

	select {
	case ev := <-fired:
		assert.NotZero(t, ev&EventRead)
	default:
		t.Fatal("expected fd readiness callback to fire")
	}
}

func TestLoopActiveHandleCountExcludesWakeFD(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, 0, l.ActiveHandleCount())

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, l.RegisterFD(int(r.Fd()), EventRead, func(IOEvents) {}))
	assert.Equal(t, 1, l.ActiveHandleCount())

	require.NoError(t, l.UnregisterFD(int(r.Fd())))
	assert.Equal(t, 0, l.ActiveHandleCount())
}

func TestLoopTimerFiresThroughPollOnce(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	fired := false
	l.ScheduleTimer(5*time.Millisecond, func() { fired = true })

	deadline := time.Now().Add(time.Second)
	for !fired && time.Now().Before(deadline) {
		l.PollOnce(true)
	}
	assert.True(t, fired)
}
