package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskloop/internal/eventbus"
	"taskloop/internal/executor"
	"taskloop/internal/storage"
	logx "taskloop/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	runs []storage.RunRecord
}

func (m *memStore) AppendRun(_ context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	m.runs = append(m.runs, r)
	m.mu.Unlock()
	return nil
}

func (m *memStore) RecentRuns(context.Context, int) ([]storage.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.RunRecord(nil), m.runs...), nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordsLifecycleEvents(t *testing.T) {
	bus := eventbus.New()
	st := &memStore{}
	rec := New(Config{RatePerSec: 1000}, bus, st, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rec.Run(ctx) }()

	waitFor(t, func() bool {
		bus.Publish(eventbus.Event{Type: "probe", Data: executor.TaskEvent{}})
		return st.count() > 0
	}, "recorder never subscribed")
	before := st.count()

	now := time.Now()
	bus.Publish(eventbus.Event{Type: "task.spawned", Time: now, Data: executor.TaskEvent{TaskID: 7, At: now}})
	bus.Publish(eventbus.Event{Type: "task.finished", Time: now, Data: executor.TaskEvent{TaskID: 7, At: now}})
	bus.Publish(eventbus.Event{Type: "other", Data: "not a task event"}) // ignored

	waitFor(t, func() bool { return st.count() >= before+2 }, "events never recorded")

	runs, _ := st.RecentRuns(ctx, 0)
	last := runs[len(runs)-1]
	if last.TaskID != 7 || last.Event != "task.finished" {
		t.Fatalf("unexpected record: %+v", last)
	}
}

func TestRateCapDropsExcess(t *testing.T) {
	bus := eventbus.New()
	st := &memStore{}
	rec := New(Config{RatePerSec: 1}, bus, st, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rec.Run(ctx) }()

	waitFor(t, func() bool {
		bus.Publish(eventbus.Event{Type: "probe", Data: executor.TaskEvent{}})
		return st.count()+int(rec.Dropped()) > 0
	}, "recorder never subscribed")

	for i := 0; i < 10; i++ {
		bus.Publish(eventbus.Event{Type: "task.finished", Data: executor.TaskEvent{TaskID: uint64(i)}})
	}

	waitFor(t, func() bool {
		return st.count()+int(rec.Dropped()) >= 10
	}, "events were lost entirely")
	if rec.Dropped() == 0 {
		t.Fatal("expected the rate cap to drop some events")
	}
}
