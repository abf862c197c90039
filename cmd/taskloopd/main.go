package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskloop/internal/config"
	"taskloop/internal/eventbus"
	"taskloop/internal/executor"
	"taskloop/internal/history"
	"taskloop/internal/runtime/supervisor"
	"taskloop/internal/storage"
	"taskloop/internal/tasks"
	"taskloop/internal/timer"
	logx "taskloop/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to config yaml/json (optional; built-in demo config when omitted)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	var (
		cfg *config.Config
		mgr *config.Manager
	)
	if cfgPath != "" {
		mgr = config.NewManager(cfgPath)
		c, err := mgr.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = config.Default()
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	defer logSvc.Close()

	sup := supervisor.New(ctx,
		supervisor.WithLogger(log),
		supervisor.WithCancelOnError(true))

	bus := eventbus.New()
	exec := executor.New(log.With(logx.String("comp", "executor")), executor.WithBus(bus))
	tw := timer.New(timer.Config{QueueSize: cfg.Timer.QueueSize}, log.With(logx.String("comp", "timer")))

	busyTimeout, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Enabled:     cfg.History.Enabled,
		Path:        cfg.History.Path,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	if store != nil {
		defer store.Close()
		rec := history.New(history.Config{RatePerSec: cfg.History.RatePerSec},
			bus, store, log.With(logx.String("comp", "history")))
		sup.Go("history", rec.Run)
	}

	sup.Go("timer", tw.Run)

	if mgr != nil {
		mgr.SetLogger(log)
		sup.Go("config-watch", mgr.Watch)
		updates := mgr.Subscribe(1)
		sup.Go("config-apply", func(ctx context.Context) error {
			defer mgr.Unsubscribe(updates)
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case c, ok := <-updates:
					if !ok {
						return nil
					}
					// Only logging reacts to live reload; the task list and
					// runtime shape are fixed at startup.
					logSvc.Apply(c.Logging.Logx())
					log.Info("logging config applied", logx.String("level", c.Logging.Level))
				}
			}
		})
	}

	for _, spec := range cfg.Tasks {
		p, err := buildTask(spec, tw, log)
		if err != nil {
			return err
		}
		exec.Spawn(p)
	}

	sup.Go("executor", func(ctx context.Context) error {
		err := exec.Run(ctx)
		// Quiescent or canceled; either way the daemon is done.
		sup.Cancel()
		return err
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("taskloopd started", logx.Int("tasks", len(cfg.Tasks)))

	<-sup.Context().Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Wait(waitCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	active, started := sup.Counters()
	log.Info("taskloopd stopped",
		logx.Int64("goroutines_active", active),
		logx.Uint64("goroutines_started", started))
	return nil
}

func buildTask(spec config.TaskSpec, tw *timer.Worker, log logx.Logger) (*tasks.Periodic, error) {
	msg := spec.Message
	if msg == "" {
		msg = "tick"
	}
	effect := tasks.LogEffect(log, msg)
	if spec.Every != "" {
		d, err := config.ParseDurationField("tasks.every", spec.Every)
		if err != nil {
			return nil, err
		}
		return tasks.NewInterval(spec.Name, d, spec.Count, tw, effect)
	}
	return tasks.NewCron(spec.Name, spec.Cron, spec.Count, tw, effect)
}
