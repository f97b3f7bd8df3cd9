package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestContext returns a context cancelled when the test ends or after 30s.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// WaitFor polls condition every few milliseconds until it holds, failing the
// test once timeout has passed. Background workers are observed with it.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-deadline.C:
			require.FailNow(t, "condition not met within "+timeout.String(), msgAndArgs...)
		case <-tick.C:
		}
	}
}

// AssertTimeWithin requires actual to be within delta of expected.
// Postgres keeps microseconds, so round trips need a small delta.
func AssertTimeWithin(t *testing.T, actual, expected time.Time, delta time.Duration) {
	t.Helper()
	diff := actual.Sub(expected)
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, delta,
		"expected %v within %v of %v, off by %v", actual, delta, expected, diff)
}
