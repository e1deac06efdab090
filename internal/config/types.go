package config

import (
	"fmt"

	"taskpilot/internal/runner"
	"taskpilot/internal/scheduler"
	"taskpilot/internal/storage"
	logx "taskpilot/pkg/logx"
)

// Config is the full on-disk configuration. Accepted as YAML or JSON;
// unknown keys are rejected so typos surface at load time.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Runner    RunnerConfig    `json:"runner"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logx maps the logging section onto the log service config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	storage:
//	  driver: sqlite
//	  path: ./taskpilot.db
//	  busy_timeout: 5s
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

func (s StorageConfig) Materialize() (storage.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: s.Driver, Path: s.Path, BusyTimeout: busy}, nil
}

// SchedulerConfig controls the registry and the embedded executor.
//
// AutoSave and LoadOnStartup are pointers so an omitted field keeps the
// default (both true) while an explicit false is honored.
type SchedulerConfig struct {
	MaxJobs       int            `json:"max_jobs,omitempty"`
	AutoSave      *bool          `json:"auto_save,omitempty"`
	LoadOnStartup *bool          `json:"load_on_startup,omitempty"`
	Executor      ExecutorConfig `json:"executor,omitempty"`
}

type ExecutorConfig struct {
	MaxConcurrent          int     `json:"max_concurrent,omitempty"`
	DefaultTimeout         string  `json:"default_timeout,omitempty"`
	RetryEnabled           *bool   `json:"retry_enabled,omitempty"`
	RetryDelay             string  `json:"retry_delay,omitempty"`
	RetryBackoffMultiplier float64 `json:"retry_backoff_multiplier,omitempty"`
	MaxRetryDelay          string  `json:"max_retry_delay,omitempty"`
}

func (s SchedulerConfig) Materialize() (scheduler.Config, error) {
	cfg := scheduler.DefaultConfig()
	if s.MaxJobs > 0 {
		cfg.MaxJobs = s.MaxJobs
	}
	if s.AutoSave != nil {
		cfg.AutoSave = *s.AutoSave
	}
	if s.LoadOnStartup != nil {
		cfg.LoadOnStartup = *s.LoadOnStartup
	}

	e := s.Executor
	if e.MaxConcurrent > 0 {
		cfg.Executor.MaxConcurrent = e.MaxConcurrent
	}
	var err error
	cfg.Executor.DefaultTimeout, err = ParseDurationOrDefault(
		"scheduler.executor.default_timeout", e.DefaultTimeout, cfg.Executor.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if e.RetryEnabled != nil {
		cfg.Executor.RetryEnabled = *e.RetryEnabled
	}
	cfg.Executor.RetryDelay, err = ParseDurationOrDefault(
		"scheduler.executor.retry_delay", e.RetryDelay, cfg.Executor.RetryDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	if e.RetryBackoffMultiplier > 0 {
		if e.RetryBackoffMultiplier < 1 {
			return scheduler.Config{}, fmt.Errorf("scheduler.executor.retry_backoff_multiplier: must be >= 1")
		}
		cfg.Executor.RetryBackoffMultiplier = e.RetryBackoffMultiplier
	}
	cfg.Executor.MaxRetryDelay, err = ParseDurationOrDefault(
		"scheduler.executor.max_retry_delay", e.MaxRetryDelay, cfg.Executor.MaxRetryDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	return cfg, nil
}

// RunnerConfig controls the tick loop and dispatch workers.
type RunnerConfig struct {
	Workers       int     `json:"workers,omitempty"`
	TickInterval  string  `json:"tick_interval,omitempty"`
	PollInterval  string  `json:"poll_interval,omitempty"`
	DispatchRate  float64 `json:"dispatch_rate,omitempty"`
	DispatchBurst int     `json:"dispatch_burst,omitempty"`
}

func (r RunnerConfig) Materialize() (runner.Config, error) {
	cfg := runner.DefaultConfig()
	if r.Workers > 0 {
		cfg.Workers = r.Workers
	}
	var err error
	cfg.TickInterval, err = ParseDurationOrDefault("runner.tick_interval", r.TickInterval, cfg.TickInterval)
	if err != nil {
		return runner.Config{}, err
	}
	cfg.PollInterval, err = ParseDurationOrDefault("runner.poll_interval", r.PollInterval, cfg.PollInterval)
	if err != nil {
		return runner.Config{}, err
	}
	if r.DispatchRate < 0 {
		return runner.Config{}, fmt.Errorf("runner.dispatch_rate: must be >= 0")
	}
	cfg.DispatchRate = r.DispatchRate
	cfg.DispatchBurst = r.DispatchBurst
	return cfg, nil
}

// PprofConfig controls the optional pprof HTTP server.
//
// Bind to localhost unless a token is set or allow_insecure is explicit.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Default returns the configuration used when no file is given:
// console logging, in-memory storage, stock scheduler and runner.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "memory"},
	}
}
