package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"taskloop/internal/eventbus"
	logx "taskloop/pkg/logx"
)

// ErrAlreadyRunning is returned by Run when the scheduling loop is already
// hosted by another goroutine. Run is a call-once operation.
var ErrAlreadyRunning = errors.New("executor: run loop already started")

// entry pairs a task with its canonical waker. It lives in the task table
// from spawn until the task completes or becomes unreachable.
type entry struct {
	task  Task
	waker *Waker
}

// Executor owns all tasks and runs the single-goroutine scheduling loop.
//
// All Progress calls run strictly sequentially on the goroutine that called
// Run; they are never concurrent with each other. Everything else (Spawn,
// Wake, Release) may happen from any goroutine and goes through one mutex
// with short, non-blocking critical sections.
type Executor struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*entry
	ready   map[uint64]struct{}
	running bool
	rounds  uint64

	// parked carries at most one token. Wake inserts into the ready set
	// first and then does a non-blocking send here; the run loop re-checks
	// the ready set after receiving. Together that closes the wake-then-park
	// race: a wake between the ready-set swap and the park either lands in
	// the fresh set (seen on the next pass) or delivers the token that
	// releases the park.
	parked chan struct{}
}

type Option func(*Executor)

// WithBus publishes task lifecycle events (task.spawned, task.finished,
// task.dropped) on the given bus.
func WithBus(bus eventbus.Bus) Option {
	return func(e *Executor) { e.bus = bus }
}

func New(log logx.Logger, opts ...Option) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{
		log:     log,
		entries: map[uint64]*entry{},
		ready:   map[uint64]struct{}{},
		parked:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Spawn registers a new task. Safe to call from any goroutine, before or
// after Run starts. The task is assigned a fresh identifier (monotonic,
// never reused) and is marked ready immediately, so it always gets at least
// one progress attempt in the next scheduling round.
func (e *Executor) Spawn(t Task) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.entries[id] = &entry{task: t, waker: &Waker{e: e, id: id}}
	e.ready[id] = struct{}{}
	e.mu.Unlock()

	e.unpark()
	e.publish("task.spawned", id)
	e.log.Debug("task spawned", logx.Uint64("task_id", id))
}

// Run hosts the scheduling loop on the calling goroutine. It returns
// ctx.Err() on cancellation, or nil once the executor is quiescent: the task
// table and ready set are simultaneously empty, so nothing can ever be woken
// again.
func (e *Executor) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.mu.Lock()
		if len(e.ready) == 0 {
			if len(e.entries) == 0 {
				rounds := e.rounds
				e.mu.Unlock()
				e.log.Debug("executor quiescent; run loop exiting", logx.Uint64("rounds", rounds))
				return nil
			}
			e.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.parked:
			}
			continue
		}

		// Swap out the whole ready set. Wakes signalled from here on land in
		// the fresh set and are serviced next round, which bounds this
		// round's work and keeps the park step reachable.
		batch := e.ready
		e.ready = make(map[uint64]struct{}, len(batch))
		e.rounds++
		round := e.rounds
		e.mu.Unlock()

		// Hot path: skip building trace fields unless trace is actually on.
		if e.log.Enabled(logx.LevelTrace) {
			e.log.Trace("scheduling round", logx.Uint64("round", round), logx.Int("batch", len(batch)))
		}

		// Iteration order over the batch is the map's: unspecified on
		// purpose. Tasks must not rely on relative ordering within a round.
		for id := range batch {
			e.runOne(id)
		}
	}
}

// runOne services a single ready task id: the entry is taken out of the
// table (full ownership transfer), polled once with a fresh waker clone, and
// re-inserted only if it reported Pending and is still reachable.
func (e *Executor) runOne(id uint64) {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if !ok {
		// Woken after completion or removal; nothing to do.
		e.mu.Unlock()
		return
	}
	delete(e.entries, id)
	e.mu.Unlock()

	w := ent.waker.Clone()
	if ent.task.Progress(w) == Done {
		// The round's clone was not handed anywhere; give it back.
		w.Release()
		e.publish("task.finished", id)
		e.log.Debug("task finished", logx.Uint64("task_id", id))
		return
	}

	e.mu.Lock()
	_, isReady := e.ready[id]
	if !isReady && ent.waker.refs.Load() == 0 {
		// The last external reference was released while the task was in
		// flight, so the entry was not in the table for the release hook to
		// remove. Catch it here instead of re-inserting an unwakeable task.
		e.mu.Unlock()
		e.publish("task.dropped", id)
		e.log.Debug("task unreachable after poll; dropped", logx.Uint64("task_id", id))
		return
	}
	e.entries[id] = ent
	e.mu.Unlock()
}

// wake is the Waker.Wake implementation. Insertion is idempotent and
// deliberately unconditional: inserting an id whose entry is gone is
// harmless, the loop simply finds no entry and ignores it.
func (e *Executor) wake(id uint64) {
	e.mu.Lock()
	e.ready[id] = struct{}{}
	e.mu.Unlock()
	e.unpark()
}

// dropIfUnreachable removes the task entry after its last waker reference
// was released, unless the task is ready (in which case it will be polled
// again and gets a fresh clone).
func (e *Executor) dropIfUnreachable(id uint64) {
	e.mu.Lock()
	_, isReady := e.ready[id]
	var dropped bool
	if !isReady {
		if _, ok := e.entries[id]; ok {
			delete(e.entries, id)
			dropped = true
		}
	}
	e.mu.Unlock()

	if dropped {
		e.publish("task.dropped", id)
		e.log.Debug("task unreachable; dropped", logx.Uint64("task_id", id))
	}
	// The table may just have gone empty; let the run loop re-evaluate
	// quiescence instead of staying parked forever.
	e.unpark()
}

func (e *Executor) unpark() {
	select {
	case e.parked <- struct{}{}:
	default:
	}
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	TaskID uint64    `json:"task_id"`
	At     time.Time `json:"at"`
}

func (e *Executor) publish(typ string, id uint64) {
	if e.bus == nil {
		return
	}
	now := time.Now()
	e.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: TaskEvent{TaskID: id, At: now}})
}

// Snapshot is a lightweight diagnostic view of the executor state.
type Snapshot struct {
	Tasks  int
	Ready  int
	NextID uint64
	Rounds uint64
}

func (e *Executor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Tasks:  len(e.entries),
		Ready:  len(e.ready),
		NextID: e.nextID,
		Rounds: e.rounds,
	}
}
