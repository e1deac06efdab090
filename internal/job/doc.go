// Package job defines the schedulable unit of work: the Job aggregate,
// its state machine, execution records, and handlers.
//
// # States
//
//	pending -> queued -> running -> completed
//	                        |
//	                        +-> failed (will_retry) -> queued ...
//	                        +-> failed (terminal)
//	pending/queued/running/paused -> cancelled
//
// Completed, Cancelled, and Failed without a pending retry are terminal.
// A paused job remembers its previous state and restores it on resume.
//
// # Handlers
//
// A Handler is the work a job performs. CommandHandler shells out and
// captures output, FuncHandler wraps an in-process function, and
// ChainHandler runs several handlers in sequence. Live handlers are
// never persisted; serializable kinds round-trip through HandlerSpec.
package job
