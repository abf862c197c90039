package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "taskloop/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the run-history journal.
//
// If Enabled is false or Path is empty, storage is disabled.
type Config struct {
	Enabled     bool
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// RunRecord is one task lifecycle event. Keep it compact and schema-stable.
type RunRecord struct {
	At     time.Time
	TaskID uint64
	Event  string // task.spawned | task.finished | task.dropped
}

// Store is the minimal persistence API used by the history recorder.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.Path) == "" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
