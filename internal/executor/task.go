package executor

// Poll is the outcome of a single progress attempt.
type Poll uint8

const (
	// Pending means the task could not finish yet. Before returning Pending
	// the task must either arrange for the waker it was given to be woken
	// later, or release it to declare itself unreachable.
	Pending Poll = iota
	// Done means the task finished. Its entry is discarded and it is never
	// polled again.
	Done
)

func (p Poll) String() string {
	switch p {
	case Pending:
		return "pending"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Task is an independently schedulable, resumable unit of work.
//
// Progress must not block: it does whatever work it can immediately and
// returns. The waker passed in is owned by the task for the duration of the
// call. The ownership contract is:
//
//   - Return Done: the executor releases the waker; the task must not retain
//     or hand it off.
//   - Return Pending: the waker belongs to whatever arrangement the task
//     made (a timer registration, an I/O callback, ...). Whoever ends up
//     holding it calls Wake and/or Release. A task that returns Pending and
//     releases the waker without arranging a wake is declaring that it can
//     never run again; the executor reclaims its entry.
//
// Returning Pending without ever causing a future Wake or Release leaves the
// task stalled forever. That is a logic bug in the task, not something the
// runtime detects.
type Task interface {
	Progress(w *Waker) Poll
}

// TaskFunc adapts a closure to the Task interface.
type TaskFunc func(w *Waker) Poll

func (f TaskFunc) Progress(w *Waker) Poll { return f(w) }
