// Package conc includes helpers for concurrency patterns that avoid some of the most common pitfalls.
package conc

import "context"

// Testing should be set to true when running tests for code that uses this package.
// This makes all functionality synchronous and makes tests deterministic.
var Testing bool

// Go runs the provided function in a goroutine if Testing is not set,
// and synchronously if it is.
func Go(f func()) {
	if !Testing {
		go f()
	} else {
		f()
	}
}

// GoCtx runs the provided function with the provided context in a goroutine
// if Testing is not set, and synchronously if it is.
func GoCtx(ctx context.Context, f func(ctx context.Context)) {
	if !Testing {
		go f(ctx)
	} else {
		f(ctx)
	}
}
