package api

// RunState represents the lifecycle state of a state machine instance.
type RunState string

const (
	StateUninitialized RunState = "UNINITIALIZED"
	StateLoading       RunState = "LOADING"
	StateConfiguring   RunState = "CONFIGURING"
	StateReady         RunState = "READY"
	StateRunning       RunState = "RUNNING"
	StatePaused        RunState = "PAUSED"
	StateSuspended     RunState = "SUSPENDED"
	StateCompleted     RunState = "COMPLETED"
	StateFailed        RunState = "FAILED"
	StateCancelled     RunState = "CANCELLED"
)

// AllRunStates lists every state in declaration order.
var AllRunStates = []RunState{
	StateUninitialized,
	StateLoading,
	StateConfiguring,
	StateReady,
	StateRunning,
	StatePaused,
	StateSuspended,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

// transitions is the static transition table. Terminal states have no
// outgoing edges.
var transitions = map[RunState][]RunState{
	StateUninitialized: {StateLoading, StateFailed, StateCancelled},
	StateLoading:       {StateConfiguring, StateReady, StateFailed, StateCancelled},
	StateConfiguring:   {StateReady, StateFailed, StateCancelled},
	StateReady:         {StateRunning, StatePaused, StateCompleted, StateFailed, StateCancelled},
	StateRunning:       {StateReady, StatePaused, StateCompleted, StateFailed, StateCancelled},
	StatePaused:        {StateReady, StateCancelled},
	StateSuspended:     {StateReady, StateCancelled},
	StateCompleted:     {},
	StateFailed:        {},
	StateCancelled:     {},
}

// stoppable states accept a graceful stop.
var stoppable = map[RunState]bool{
	StateRunning:     true,
	StateReady:       true,
	StatePaused:      true,
	StateSuspended:   true,
	StateLoading:     true,
	StateConfiguring: true,
}

// IsTerminal reports whether no further transitions are possible.
func (s RunState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// IsStoppable reports whether a graceful stop is accepted from s.
func (s RunState) IsStoppable() bool {
	return stoppable[s]
}

// Valid reports whether s is one of the declared states.
func (s RunState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the table contains the edge s -> next.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the outgoing edges of s.
func (s RunState) AllowedTransitions() []RunState {
	out := make([]RunState, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

func (s RunState) String() string {
	return string(s)
}
