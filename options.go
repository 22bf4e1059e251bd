package fiber

import (
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// config holds the resolved configuration for a Runtime, built by applying
// every Option passed to Init.
type config struct {
	logger         *logiface.Logger[*stumpy.Event]
	pollTimeoutCap time.Duration
	deadlockPolicy func(diagnostic string) error
}

// Option configures a Runtime at Init, grounded on eventloop/options.go's
// LoopOption interface + closure pattern.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// defaultConfig mirrors resolveLoopOptions's defaulted-struct-then-apply
// shape: sane defaults first, each Option overrides one field.
func defaultConfig() *config {
	return &config{
		logger:         getLogger(),
		pollTimeoutCap: time.Second,
		deadlockPolicy: abortDeadlockPolicy,
	}
}

func resolveOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.apply(cfg)
	}
	return cfg
}

// WithLogger overrides the package-level logger (see SetLogger) for a
// single Runtime instance, without disturbing the global default used by
// any other Runtime in the process.
func WithLogger(l *logiface.Logger[*stumpy.Event]) Option {
	return optionFunc(func(c *config) { c.logger = l })
}

// WithPollTimeout bounds how long a single idle-fiber event-loop tick may
// block even when no timer is armed, so a forgotten EnableSignal
// subscription (or any other externally-satisfied wait) can't wedge the
// whole process past the point a caller can reasonably expect progress.
// The default is one second.
func WithPollTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) { c.pollTimeoutCap = d })
}

// WithDeadlockPolicy overrides what happens when the idle fiber's
// deadlock check (spec.md §4.4) trips: the ready queue holds only the
// idle fiber and the event loop reports no pending handles or timers.
//
// The spec-mandated default (abortDeadlockPolicy) prints the fixed
// diagnostic to stderr and calls os.Exit(1), matching fiber.cpp's
// exit(1), and never returns. A policy may instead return a non-nil
// error (conventionally *DeadlockError) to have the package-level Err
// function start reporting it instead of exiting the process — intended
// for a test harness embedding the runtime that can't tolerate the host
// binary exiting out from under it. The idle fiber keeps driving the
// event loop afterward (I6 requires it stay in the rotation forever) but
// will not invoke the policy again until the ready queue holds something
// other than idle in between, so a policy with a side effect (e.g.
// resuming a waiting fiber) fires once per deadlocked stretch rather than
// once per idle tick. See DESIGN.md's "Open Questions resolved".
func WithDeadlockPolicy(policy func(diagnostic string) error) Option {
	return optionFunc(func(c *config) { c.deadlockPolicy = policy })
}

// abortDeadlockPolicy is the spec-mandated default (spec.md §4.7): print
// the fixed diagnostic and hard-exit, matching fiber.cpp's exit(1). It
// never returns.
func abortDeadlockPolicy(diagnostic string) error {
	fmt.Fprintln(os.Stderr, "fiber:", diagnostic)
	os.Exit(1)
	return nil
}
