// Package api contains the shared vocabulary of tokenflow: run states and
// their transition table, events, and the collaborator interfaces a
// lifecycle machine talks to.
//
// Most users interact with the higher-level tokenflow package, which
// re-exports selected types from this package. The api package is intended
// for custom integrations such as new bus, lock or observer implementations.
//
// # Run states
//
// RunState is a closed set of lifecycle states. CanTransitionTo and
// AllowedTransitions expose the static transition table; terminal states
// (COMPLETED, FAILED, CANCELLED) have no outgoing edges.
//
// # Collaborators
//
// A machine depends on four interfaces, each with a no-op implementation:
//
//   - EventBus: subscribe to event type patterns
//   - Publisher: emit state changes and other events
//   - ProcessingLock: exclude concurrent drains of the same run
//   - Observer: observe transitions, processed and dropped events
//
// ManagedTask is the minimal control surface a supervisor needs to pause or
// stop many runs uniformly.
//
// # Observability
//
// LoggingObserver reports through log/slog, BasicMetrics keeps in-memory
// counters, and CompositeObserver fans out to several observers.
package api
