// Package tokenflow provides an embeddable, event-driven execution core for
// long-running workflow runs.
//
// It has two halves that are used together or on their own:
//
//  1. Machine: the lifecycle state machine of one run
//  2. Evaluator: the boundary event evaluator of a process model
//
// # Machine
//
// A Machine owns a run's RunState, a bounded event queue and the drain loop
// that feeds queued events to the run's ProcessEvent hook one at a time.
// State follows a fixed transition table:
//
//	UNINITIALIZED -> LOADING -> (CONFIGURING ->) READY <-> RUNNING
//	READY/RUNNING -> PAUSED -> READY
//	... -> COMPLETED | FAILED | CANCELLED
//
// Every accepted transition is emitted on a Publisher as a StateChange;
// rejected transitions leave the state untouched. Per-workflow behavior is
// injected with Hooks rather than subtyping.
//
// Drains are guarded by a ProcessingLock keyed by task id and coordination
// key, so at most one drain per run executes at a time even across
// processes. Lock implementations exist for memory, Redis, SQLite,
// PostgreSQL and MongoDB.
//
// Machines support pause, resume and graceful or forced stop. Stop releases
// every bus subscription and the lock, runs the OnStop hook and moves to a
// terminal state. A second stop is a no-op that still succeeds.
//
// # Evaluator
//
// The Evaluator inspects the boundary events attached to an active activity
// and decides what happens next:
//
//   - timers wait until an ISO-8601 duration (or due date) elapses
//   - error events catch recorded errors and always interrupt
//   - message and signal events fire when a matching one has been received
//
// Evaluation is a pure function of the model, the location and an immutable
// Context: every change produces a new Context, so callers can keep or
// discard it freely.
//
// # Backends
//
// Config (loaded with LoadConfig from YAML and TOKENFLOW_* environment
// variables) selects the lock, bus and history store; OpenBackends builds
// them. RestoreMachine seeds a new Machine with the last recorded state of
// its task.
//
// # Supervisor
//
// Supervisor tracks many ManagedTasks and pauses or stops them together,
// for example on process shutdown.
//
// For runnable programs, see the /examples directory.
package tokenflow
