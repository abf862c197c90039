package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "taskloop/pkg/logx"
)

type stubWaker struct {
	mu       sync.Mutex
	wakes    int
	released int
	onWake   func()
}

func (s *stubWaker) Wake() {
	s.mu.Lock()
	s.wakes++
	fn := s.onWake
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *stubWaker) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *stubWaker) counts() (wakes, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakes, s.released
}

type firing struct {
	label string
	at    time.Time
}

// Three registrations at distinct instants, registered out of order, must
// fire in deadline order and never before their deadlines.
func TestFiringOrder(t *testing.T) {
	w := New(Config{}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	fired := make(chan firing, 3)
	base := time.Now()
	reg := func(label string, at time.Time) {
		s := &stubWaker{}
		s.onWake = func() { fired <- firing{label: label, at: time.Now()} }
		w.Register(at, s)
	}
	deadlines := map[string]time.Time{
		"t100": base.Add(100 * time.Millisecond),
		"t50":  base.Add(50 * time.Millisecond),
		"t200": base.Add(200 * time.Millisecond),
	}
	reg("t100", deadlines["t100"])
	reg("t50", deadlines["t50"])
	reg("t200", deadlines["t200"])

	var got []firing
	for i := 0; i < 3; i++ {
		select {
		case f := <-fired:
			got = append(got, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for firing %d", i)
		}
	}

	want := []string{"t50", "t100", "t200"}
	for i, f := range got {
		if f.label != want[i] {
			t.Fatalf("firing %d: got %s, want %s (full order %v)", i, f.label, want[i], got)
		}
		if f.at.Before(deadlines[f.label]) {
			t.Fatalf("%s fired %v early", f.label, deadlines[f.label].Sub(f.at))
		}
	}
}

// A registration arriving while the worker waits on a later deadline must
// preempt that wait.
func TestEarlierRegistrationPreemptsWait(t *testing.T) {
	w := New(Config{}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	fired := make(chan string, 2)
	late := &stubWaker{onWake: func() { fired <- "late" }}
	w.Register(time.Now().Add(5*time.Second), late)

	time.Sleep(50 * time.Millisecond) // worker is now waiting on the 5s deadline
	soon := &stubWaker{onWake: func() { fired <- "soon" }}
	w.Register(time.Now().Add(50*time.Millisecond), soon)

	select {
	case label := <-fired:
		if label != "soon" {
			t.Fatalf("expected the earlier registration to fire first, got %s", label)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("earlier registration never fired; wait was not re-evaluated")
	}
}

func TestFullQueueDropsAndReleases(t *testing.T) {
	w := New(Config{QueueSize: 1}, logx.Nop())
	// Worker not running: the queue fills immediately.

	keep := &stubWaker{}
	drop := &stubWaker{}
	at := time.Now().Add(time.Hour)
	w.Register(at, keep)
	w.Register(at.Add(time.Second), drop)

	if _, released := drop.counts(); released != 1 {
		t.Fatalf("dropped registration should release its waker, released=%d", released)
	}
	if wakes, _ := drop.counts(); wakes != 0 {
		t.Fatalf("dropped registration must not wake, wakes=%d", wakes)
	}
	if got := w.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped registration, got %d", got)
	}
}

func TestDuplicateDeadlinePanics(t *testing.T) {
	w := New(Config{}, logx.Nop())

	at := time.Now().Add(time.Hour)
	w.Register(at, &stubWaker{})
	w.Register(at, &stubWaker{})

	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		_ = w.Run(context.Background())
	}()

	select {
	case r := <-recovered:
		if r == nil {
			t.Fatal("worker exited without panicking on duplicate deadline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not panic on duplicate deadline")
	}
}

func TestShutdownReleasesPending(t *testing.T) {
	w := New(Config{}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	s := &stubWaker{}
	w.Register(time.Now().Add(time.Hour), s)

	time.Sleep(50 * time.Millisecond) // let the worker pick up the registration
	cancel()
	<-errCh

	wakes, released := s.counts()
	if wakes != 0 {
		t.Fatalf("pending registration must not fire on shutdown, wakes=%d", wakes)
	}
	if released != 1 {
		t.Fatalf("pending registration must be released on shutdown, released=%d", released)
	}
}
