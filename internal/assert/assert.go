// Package assert provides lightweight invariant checks for conditions that
// indicate a programming error rather than a runtime failure a caller
// should recover from: a violation panics immediately instead of being
// threaded through error returns.
package assert

import "fmt"

// Assert panics with msg if cond is false. Used at invariant boundaries
// (e.g. a mutex that must already be held, a map that must be non-nil)
// where a violation indicates a programming error, not a runtime failure
// a caller should recover from.
func Assert(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, a ...interface{}) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, a...))
	}
}
