// Package testutil provides polling helpers for tests of asynchronous
// downloads, uploads and event delivery.
package testutil

import (
	"testing"
	"time"
)

// WaitOptions configures WaitFor behavior.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 20ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

func resolve(opts []WaitOption) WaitOptions {
	o := WaitOptions{
		Timeout:  10 * time.Second,
		Interval: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Poll calls get until it reports done or the timeout passes. It returns the
// last value seen and whether get reported done. get is always called at
// least once.
func Poll[T any](tb testing.TB, get func() (T, bool), opts ...WaitOption) (T, bool) {
	tb.Helper()
	o := resolve(opts)

	deadline := time.NewTimer(o.Timeout)
	defer deadline.Stop()
	tick := time.NewTicker(o.Interval)
	defer tick.Stop()

	for {
		v, done := get()
		if done {
			return v, true
		}
		select {
		case <-deadline.C:
			return v, false
		case <-tick.C:
		}
	}
}

// MustPoll is Poll that fails the test on timeout, reporting the last value.
func MustPoll[T any](tb testing.TB, get func() (T, bool), opts ...WaitOption) T {
	tb.Helper()
	v, ok := Poll(tb, get, opts...)
	if !ok {
		tb.Fatalf("timed out waiting, last value: %+v", v)
	}
	return v
}

// WaitFor polls until condition returns true or timeout is reached.
// Returns true if condition was met, false on timeout.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	_, ok := Poll(tb, func() (struct{}, bool) { return struct{}{}, condition() }, opts...)
	return ok
}

// MustWaitFor polls until condition returns true or fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}
