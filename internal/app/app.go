// Package app wires the process together: config, logging, storage,
// scheduler, runner, and the optional debug server.
package app

import (
	"context"
	"strings"

	"taskpilot/internal/config"
	"taskpilot/internal/eventbus"
	"taskpilot/internal/observability/debug"
	"taskpilot/internal/runner"
	"taskpilot/internal/runtime/supervisor"
	"taskpilot/internal/scheduler"
	"taskpilot/internal/storage"
	logx "taskpilot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched *scheduler.Scheduler
	run   *runner.Runner
	debug *debug.Service
}

// New builds the app from the config file. An empty path runs with
// defaults: console logging, in-memory storage.
func New(cfgPath string) (*App, error) {
	var (
		cfgm *config.Manager
		cfg  *config.Config
	)
	if strings.TrimSpace(cfgPath) == "" {
		cfg = config.Default()
	} else {
		cfgm = config.NewManager(cfgPath)
		loaded, err := cfgm.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	log = log.With(logx.String("comp", "app"))
	if cfgm != nil {
		cfgm.SetLogger(log)
	}

	bus := eventbus.New()

	storeCfg, err := cfg.Storage.Materialize()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	schedCfg, err := cfg.Scheduler.Materialize()
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(store, schedCfg, log, bus)
	if err != nil {
		return nil, err
	}

	runCfg, err := cfg.Runner.Materialize()
	if err != nil {
		return nil, err
	}
	run := runner.New(sched, runCfg, log)

	var dbg *debug.Service
	if cfg.Pprof.Enabled {
		readTO, err := config.ParseDurationField("pprof.read_timeout", cfg.Pprof.ReadTimeout)
		if err != nil {
			return nil, err
		}
		writeTO, err := config.ParseDurationField("pprof.write_timeout", cfg.Pprof.WriteTimeout)
		if err != nil {
			return nil, err
		}
		idleTO, err := config.ParseDurationField("pprof.idle_timeout", cfg.Pprof.IdleTimeout)
		if err != nil {
			return nil, err
		}
		dbg = debug.New(debug.Config{
			Enabled:       true,
			Addr:          cfg.Pprof.Addr,
			Token:         cfg.Pprof.Token,
			AllowInsecure: cfg.Pprof.AllowInsecure,
			ReadTimeout:   readTO,
			WriteTimeout:  writeTO,
			IdleTimeout:   idleTO,
		}, sched, log)
	}

	return &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		sched: sched,
		run:   run,
		debug: dbg,
	}, nil
}

// Scheduler exposes the engine for callers that register jobs in code.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Bus exposes the event bus for observers.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Logger returns the root app logger.
func (a *App) Logger() logx.Logger { return a.log }

// Start launches the runner, debug server, and config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	if err := a.run.Start(ctx); err != nil {
		return err
	}
	if a.debug != nil {
		a.debug.Start(a.sup.Context())
	}
	if a.cfgm != nil {
		a.sup.Go("config.watch", a.cfgm.Watch)
		a.sup.Go("config.reload", a.applyReloads)
	}

	a.log.Info("started", logx.String("status", a.sched.Status().String()))
	return nil
}

// applyReloads consumes config updates. Logging is re-applied live;
// engine sections need a restart and are only reported.
func (a *App) applyReloads(ctx context.Context) error {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				continue
			}
			a.logs.Apply(cfg.Logging.Logx())
			a.log.Info("config applied",
				append([]logx.Field{logx.Any("sections", changed)}, attrs...)...)
			for _, section := range changed {
				if section != "logging" {
					a.log.Warn("section requires restart to take effect",
						logx.String("section", section))
				}
			}
			prev = cfg
		}
	}
}

// Stop drains the runner, persists jobs, and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.run.Stop()
	if a.debug != nil {
		a.debug.Stop(ctx)
	}
	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}

	err := a.sched.Shutdown(ctx)
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	if lerr := a.logs.Close(); err == nil {
		err = lerr
	}
	a.log.Info("stopped")
	return err
}
