// Package chk provides the error-check-and-log helpers used at nearly every
// call site in the relay: `if chk.E(err) { return }` logs the error (with
// its caller) at Error level and reports whether one occurred, so handling
// code stays on one line instead of the usual three.
package chk

import (
	"fmt"
	"runtime"

	"fitrelay.dev/log"
)

// E logs err at Error level (with file:line of the caller) and returns true
// if err is non-nil.
func E(err error) bool { return at(log.E, err) }

// T logs err at Trace level and returns true if err is non-nil. Used where
// the error is expected/recoverable often enough that Error level would be
// noisy (e.g. "no rows" on an optional lookup).
func T(err error) bool { return at(log.T, err) }

// D logs err at Debug level and returns true if err is non-nil.
func D(err error) bool { return at(log.D, err) }

func at(l log.L, err error) bool {
	if err == nil {
		return false
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		l.F("%s:%d %v", file, line, err)
	} else {
		l.F("%v", err)
	}
	return true
}

// Recover turns a recovered panic value into an error, for use in deferred
// recover() blocks that isolate one connection's goroutine from the rest of
// the process.
func Recover(r interface{}) error {
	if r == nil {
		return nil
	}
	return fmt.Errorf("panic: %v", r)
}
