package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskloop/internal/executor"
	"taskloop/internal/timer"
	logx "taskloop/pkg/logx"
)

// End-to-end: a 500ms periodic task limited to 4 activations fires exactly
// 4 times, each no earlier than its scheduled instant, and the executor
// quiesces once the task finishes.
func TestPeriodicFourActivations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tw := timer.New(timer.Config{}, logx.Nop())
	go func() { _ = tw.Run(ctx) }()

	e := executor.New(logx.Nop())

	var mu sync.Mutex
	var fires []time.Time
	effect := func(name string, at time.Time) {
		mu.Lock()
		fires = append(fires, at)
		mu.Unlock()
	}

	start := time.Now()
	p, err := NewInterval("ding", 500*time.Millisecond, 4, tw, effect)
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	e.Spawn(p)

	runCtx, runCancel := context.WithTimeout(ctx, 10*time.Second)
	defer runCancel()
	if err := e.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fires) != 4 {
		t.Fatalf("expected exactly 4 activations, got %d", len(fires))
	}
	for i, at := range fires {
		deadline := start.Add(time.Duration(i+1) * 500 * time.Millisecond)
		if at.Before(deadline) {
			t.Fatalf("activation %d fired %v early", i, deadline.Sub(at))
		}
	}
	for i := 1; i < len(fires); i++ {
		gap := fires[i].Sub(fires[i-1])
		if gap < 300*time.Millisecond || gap > 1500*time.Millisecond {
			t.Fatalf("activation gap %d out of range: %v", i, gap)
		}
	}
	if p.Fired() != 4 {
		t.Fatalf("expected Fired()==4, got %d", p.Fired())
	}
}

// Free-running variant: an unbounded 500ms periodic task observed for a
// 2100ms window fires exactly 4 times (deadlines at 500/1000/1500/2000ms;
// the 5th lands at 2500ms, outside the window).
func TestPeriodicFreeRunningWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tw := timer.New(timer.Config{}, logx.Nop())
	go func() { _ = tw.Run(ctx) }()

	e := executor.New(logx.Nop())

	var fired atomic.Int64
	p, err := NewInterval("ding", 500*time.Millisecond, 0, tw, func(string, time.Time) {
		fired.Add(1)
	})
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	e.Spawn(p)

	runCtx, runCancel := context.WithTimeout(ctx, 2100*time.Millisecond)
	defer runCancel()
	if err := e.Run(runCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run: expected deadline exceeded, got %v", err)
	}

	if n := fired.Load(); n != 4 {
		t.Fatalf("expected exactly 4 activations in the window, got %d", n)
	}
}

func TestIntervalValidation(t *testing.T) {
	tw := timer.New(timer.Config{}, logx.Nop())
	if _, err := NewInterval("x", 0, 0, tw, nil); err == nil {
		t.Fatal("expected error for non-positive period")
	}
	if _, err := NewInterval("x", time.Second, 0, nil, nil); err == nil {
		t.Fatal("expected error for missing timer worker")
	}
}

func TestCronConstruction(t *testing.T) {
	tw := timer.New(timer.Config{}, logx.Nop())

	p, err := NewCron("hourly", "@hourly", 0, tw, nil)
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	if p.next.Before(time.Now()) || p.next.After(time.Now().Add(time.Hour+time.Minute)) {
		t.Fatalf("unexpected first deadline: %v", p.next)
	}

	if _, err := NewCron("bad", "not a cron spec", 0, tw, nil); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}
