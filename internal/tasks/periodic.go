// Package tasks holds the demonstration tasks shipped with taskloopd.
package tasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"taskloop/internal/executor"
	"taskloop/internal/timer"
	logx "taskloop/pkg/logx"
)

// Effect is the observable action a periodic task performs when it is due.
type Effect func(name string, at time.Time)

// LogEffect writes the task's message at INFO level. The default effect.
func LogEffect(log logx.Logger, message string) Effect {
	return func(name string, at time.Time) {
		log.Info(message, logx.String("task", name), logx.Time("at", at))
	}
}

// Periodic performs an observable effect on a fixed cadence, suspending on
// the timer worker between activations instead of blocking the executor.
//
// With Count > 0 it finishes after that many effects; with Count 0 it runs
// until the process stops.
type Periodic struct {
	name   string
	next   time.Time
	tw     *timer.Worker
	effect Effect

	// advance computes the deadline after the given one. Interval tasks add
	// a fixed period to the previous deadline (fixed cadence, immune to
	// scheduling jitter); cron tasks ask the schedule for the activation
	// after now.
	advance func(prev time.Time) time.Time

	counted   bool
	remaining int
	fired     int
}

// cronParser accepts standard 5-field specs plus descriptors like
// "@hourly". Not "@every": sub-second intervals go through NewInterval.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewInterval builds a periodic task with a fixed period. count <= 0 means
// run forever.
func NewInterval(name string, period time.Duration, count int, tw *timer.Worker, effect Effect) (*Periodic, error) {
	if period <= 0 {
		return nil, errors.New("tasks: period must be positive")
	}
	if tw == nil {
		return nil, errors.New("tasks: timer worker is required")
	}
	return &Periodic{
		name:      name,
		next:      time.Now().Add(period),
		tw:        tw,
		effect:    effect,
		advance:   func(prev time.Time) time.Time { return prev.Add(period) },
		counted:   count > 0,
		remaining: count,
	}, nil
}

// NewCron builds a periodic task driven by a cron spec (scheduler local
// time). count <= 0 means run forever.
func NewCron(name, spec string, count int, tw *timer.Worker, effect Effect) (*Periodic, error) {
	if tw == nil {
		return nil, errors.New("tasks: timer worker is required")
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("tasks: invalid cron spec %q: %w", spec, err)
	}
	return &Periodic{
		name:      name,
		next:      sched.Next(time.Now()),
		tw:        tw,
		effect:    effect,
		advance:   func(time.Time) time.Time { return sched.Next(time.Now()) },
		counted:   count > 0,
		remaining: count,
	}, nil
}

func (p *Periodic) Name() string { return p.name }

// Fired reports how many effects have run so far.
func (p *Periodic) Fired() int { return p.fired }

// Progress runs the effect if the deadline has passed, then re-registers
// for the (possibly just-advanced) next deadline. Only ever called from the
// executor goroutine, so no locking is needed on the fields.
func (p *Periodic) Progress(w *executor.Waker) executor.Poll {
	now := time.Now()
	if !now.Before(p.next) {
		p.fired++
		if p.effect != nil {
			p.effect(p.name, now)
		}
		if p.counted {
			p.remaining--
			if p.remaining <= 0 {
				return executor.Done
			}
		}
		p.next = p.advance(p.next)
	}
	p.tw.Register(p.next, w)
	return executor.Pending
}
