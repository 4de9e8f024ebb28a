// Package once implements the lock-free one-shot initializer pattern of
// spec.md §5, grounded on nbdkit's common/include/once.h: a shared atomic
// counter where the first caller whose fetch-and-increment yields 1 runs
// the initializer; everyone else just observes the counter and moves on.
// There is deliberately no separate "done" flag synchronizing visibility of
// the initializer's effects — per spec.md §5 that's acceptable because the
// only contract is uniqueness of execution, not ordering; a caller that
// needs ordering guarantees must pair this with its own mutex.
package once

import "sync/atomic"

// Once is a one-shot initializer. The zero value is ready to use.
type Once struct {
	count atomic.Uint64
}

// Do runs fn at most once across any number of concurrent callers. After
// any call to Do returns, every subsequent caller is guaranteed to observe
// that fn has already run (or is running) and will not run it again.
func (o *Once) Do(fn func()) {
	if o.count.Add(1) == 1 {
		fn()
	}
}

// Done reports whether some caller's Do has already claimed the
// initialization slot (it may still be running on another goroutine).
func (o *Once) Done() bool {
	return o.count.Load() > 0
}
