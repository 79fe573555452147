// Package context gives the stdlib context types short, consistent names so
// call sites across the relay read the same way regardless of package.
package context

import "context"

// T is a context.Context.
type T = context.Context

// F is a context.CancelFunc.
type F = context.CancelFunc

// Bg returns context.Background().
func Bg() T { return context.Background() }

// Cancel returns a cancellable child of parent.
func Cancel(parent T) (T, F) { return context.WithCancel(parent) }
