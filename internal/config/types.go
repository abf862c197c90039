package config

import (
	"fmt"
	"strings"

	logx "taskloop/pkg/logx"
)

// Config is the full taskloopd configuration. Accepted as YAML or JSON;
// unknown fields are rejected.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Timer   TimerConfig   `json:"timer,omitempty"`
	History HistoryConfig `json:"history,omitempty"`
	Tasks   []TaskSpec    `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// Logx maps the config block onto the logging service config.
func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

type TimerConfig struct {
	// QueueSize bounds the timer registration channel. Zero uses the
	// worker default.
	QueueSize int `json:"queue_size,omitempty"`
}

// HistoryConfig controls the optional sqlite run-history journal.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type HistoryConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// TaskSpec declares one periodic task to spawn at startup.
//
// Exactly one of Every (Go duration string, fixed cadence, sub-second OK)
// or Cron (standard 5-field spec or a descriptor like "@hourly") must be
// set. Count limits how many times the effect runs; 0 means forever.
type TaskSpec struct {
	Name    string `json:"name"`
	Every   string `json:"every,omitempty"`
	Cron    string `json:"cron,omitempty"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

// Default returns the configuration used when no config file is given:
// console logging and a single forever-running demo task.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Tasks: []TaskSpec{
			{Name: "ding", Every: "500ms", Message: "ding"},
		},
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if c.History.BusyTimeout != "" {
		if _, err := ParseDurationField("history.busy_timeout", c.History.BusyTimeout); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("%s: name is required", path)
		}
		if seen[name] {
			return fmt.Errorf("%s: duplicate task name %q", path, name)
		}
		seen[name] = true
		hasEvery := strings.TrimSpace(t.Every) != ""
		hasCron := strings.TrimSpace(t.Cron) != ""
		if hasEvery == hasCron {
			return fmt.Errorf("%s: exactly one of every/cron must be set", path)
		}
		if hasEvery {
			d, err := ParseDurationField(path+".every", t.Every)
			if err != nil {
				return err
			}
			if d <= 0 {
				return fmt.Errorf("%s.every: must be positive", path)
			}
		}
		if t.Count < 0 {
			return fmt.Errorf("%s.count: must be >= 0", path)
		}
	}
	return nil
}
