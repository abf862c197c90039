package executor

import "sync/atomic"

// Waker marks one task ready for another progress attempt.
//
// A Waker is shareable and thread-safe: Wake may be called from any
// goroutine, any number of times, at any time, including after the task has
// already completed (a wake for a removed task id is a silent no-op).
//
// Holders are counted explicitly. Clone hands out a new owned reference,
// Release gives one back. When the count drops to zero while the task is not
// in the ready set, nothing can ever wake the task again, so the executor
// removes its entry. That cleanup is a correctness requirement, not an
// optimization: an unreachable task must not occupy the task table forever.
type Waker struct {
	e  *Executor
	id uint64

	// refs counts outstanding owned references. The executor's own pointer
	// inside the task entry is not counted; it exists only so fresh clones
	// can be minted for each progress attempt.
	refs atomic.Int64
}

// TaskID returns the identifier of the task this waker wakes.
func (w *Waker) TaskID() uint64 { return w.id }

// Wake inserts the task into the ready set and unparks the executor if it is
// idle. Idempotent: waking a task several times before it is serviced still
// results in a single progress attempt for that round.
func (w *Waker) Wake() {
	w.e.wake(w.id)
}

// Clone returns an additional owned reference. Every Clone must eventually
// be paired with exactly one Release.
func (w *Waker) Clone() *Waker {
	w.refs.Add(1)
	return w
}

// Release gives back one owned reference. Releasing the last reference while
// the task is not ready removes the task entry; this runs exactly once,
// under the same lock as ready-set mutation, so it cannot race a concurrent
// Wake.
func (w *Waker) Release() {
	n := w.refs.Add(-1)
	if n < 0 {
		panic("executor: waker released more times than cloned")
	}
	if n == 0 {
		w.e.dropIfUnreachable(w.id)
	}
}
