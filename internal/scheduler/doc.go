// Package scheduler is the engine core: a registry of jobs keyed by id
// and name, and an executor that runs handlers with concurrency
// accounting and exponential-backoff retries.
//
// The Scheduler owns registration, due-job sweeps, and persistence; the
// Executor owns execution mechanics. Both publish lifecycle events on
// the shared eventbus so observers never need to poll.
//
// Typical wiring:
//
//	store, _ := storage.Open(cfg.Storage, log)
//	sched, _ := scheduler.New(store, scheduler.DefaultConfig(), log, bus)
//	sched.Add(ctx, j)
//	sched.RunPending(ctx, time.Now())
package scheduler
