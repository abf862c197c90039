// Package history records task lifecycle events into the storage journal.
package history

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"taskloop/internal/eventbus"
	"taskloop/internal/executor"
	"taskloop/internal/storage"
	logx "taskloop/pkg/logx"
)

type Config struct {
	// RatePerSec caps journal writes. Excess events are counted and
	// dropped; recording never applies backpressure to the runtime.
	// Zero means 50.
	RatePerSec int
}

// Recorder subscribes to the event bus and persists executor lifecycle
// events. It is an observer: losing an event loses a history row, never a
// wakeup.
type Recorder struct {
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store
	limiter *rate.Limiter

	dropped atomic.Uint64
}

func New(cfg Config, bus eventbus.Bus, store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 50
	}
	return &Recorder{
		log:     log,
		bus:     bus,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Dropped reports how many events were discarded by the rate cap.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run consumes events until ctx is canceled.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(128)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev eventbus.Event) {
	te, ok := ev.Data.(executor.TaskEvent)
	if !ok {
		return
	}
	if !r.limiter.Allow() {
		r.dropped.Add(1)
		return
	}
	rec := storage.RunRecord{At: ev.Time, TaskID: te.TaskID, Event: ev.Type}
	if err := r.store.AppendRun(ctx, rec); err != nil && ctx.Err() == nil {
		r.log.Warn("history append failed",
			logx.Uint64("task_id", te.TaskID),
			logx.String("event", ev.Type),
			logx.Err(err))
	}
}
