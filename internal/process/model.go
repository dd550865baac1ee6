// Package process evaluates boundary events attached to active process
// activities: timers, errors, messages and signals.
//
// The evaluator is a pure function of (model, location, context). It never
// mutates the Context it is given; every call returns a new one.
package process

import (
	"fmt"
	"strings"
)

// EventKind is the closed set of boundary event types.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindTimer
	KindError
	KindMessage
	KindSignal
	KindCompensation
)

var kindNames = map[EventKind]string{
	KindUnknown:      "unknown",
	KindTimer:        "timer",
	KindError:        "error",
	KindMessage:      "message",
	KindSignal:       "signal",
	KindCompensation: "compensation",
}

func (k EventKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ParseEventKind maps a type tag to its kind. Unrecognized tags are
// KindUnknown.
func ParseEventKind(s string) EventKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "timer":
		return KindTimer
	case "error":
		return KindError
	case "message":
		return KindMessage
	case "signal":
		return KindSignal
	case "compensation":
		return KindCompensation
	default:
		return KindUnknown
	}
}

// EventDefinition is the declarative payload of a boundary event. Only the
// fields relevant to the event's kind are read.
type EventDefinition struct {
	// Timer: DueDate (RFC 3339) wins over Duration, which wins over the
	// interval of Cycle (for example "R3/PT10S").
	Duration string
	DueDate  string
	Cycle    string

	// Error. Empty matches any recorded error.
	ErrorCode string

	// Message. CorrelationKey is optional.
	MessageRef     string
	CorrelationKey string

	// Signal.
	SignalRef string
}

// BoundaryEvent is a process-model event attached to an activity.
type BoundaryEvent struct {
	ID         string
	AttachedTo string
	Kind       EventKind

	// Interrupting defaults to true when nil. Error boundary events always
	// interrupt regardless of this flag.
	Interrupting *bool

	Definition EventDefinition
}

// IsInterrupting reports whether firing this event terminates the activity.
func (b BoundaryEvent) IsInterrupting() bool {
	if b.Kind == KindError {
		return true
	}
	return b.Interrupting == nil || *b.Interrupting
}

// Flow is a directed sequence flow between two nodes.
type Flow struct {
	ID     string
	Source string
	Target string

	// Condition is carried through to the resulting location's metadata;
	// evaluating it is left to the navigator.
	Condition string
}

// Model is the read side of a process definition used by the evaluator.
type Model interface {
	BoundaryEvents(nodeID string) []BoundaryEvent
	OutgoingFlows(nodeID string) []Flow
	NewLocation(nodeID, routineID string, typ LocationType, opts LocationOptions) Location
}

// MemoryModel is an in-memory Model assembled with its builder methods or
// loaded from YAML. It is not safe for concurrent modification, but is safe
// for concurrent reads once built.
type MemoryModel struct {
	id     string
	nodes  map[string]string // node id -> node type
	events map[string][]BoundaryEvent
	flows  map[string][]Flow
}

var _ Model = (*MemoryModel)(nil)

// NewMemoryModel creates an empty model with the given id.
func NewMemoryModel(id string) *MemoryModel {
	return &MemoryModel{
		id:     id,
		nodes:  make(map[string]string),
		events: make(map[string][]BoundaryEvent),
		flows:  make(map[string][]Flow),
	}
}

// ID returns the model id.
func (m *MemoryModel) ID() string {
	return m.id
}

// AddNode declares a node. typ is informational (for example "task").
func (m *MemoryModel) AddNode(id, typ string) *MemoryModel {
	if id == "" {
		panic("process: node id must not be empty")
	}
	m.nodes[id] = typ
	return m
}

// AddBoundaryEvent attaches ev to ev.AttachedTo. Declaration order is
// preserved and is the evaluation order.
func (m *MemoryModel) AddBoundaryEvent(ev BoundaryEvent) *MemoryModel {
	if ev.ID == "" {
		panic("process: boundary event id must not be empty")
	}
	if ev.AttachedTo == "" {
		panic(fmt.Sprintf("process: boundary event %q is not attached to a node", ev.ID))
	}
	if _, ok := m.nodes[ev.AttachedTo]; !ok {
		m.nodes[ev.AttachedTo] = ""
	}
	m.nodes[ev.ID] = "boundaryEvent"
	m.events[ev.AttachedTo] = append(m.events[ev.AttachedTo], ev)
	return m
}

// AddFlow adds a sequence flow from f.Source to f.Target.
func (m *MemoryModel) AddFlow(f Flow) *MemoryModel {
	if f.Source == "" || f.Target == "" {
		panic(fmt.Sprintf("process: flow %q needs both source and target", f.ID))
	}
	if f.ID == "" {
		f.ID = f.Source + "->" + f.Target
	}
	m.flows[f.Source] = append(m.flows[f.Source], f)
	return m
}

// HasNode reports whether id was declared as a node or boundary event.
func (m *MemoryModel) HasNode(id string) bool {
	_, ok := m.nodes[id]
	return ok
}

// BoundaryEvents returns a copy of the events attached to nodeID.
func (m *MemoryModel) BoundaryEvents(nodeID string) []BoundaryEvent {
	evs := m.events[nodeID]
	out := make([]BoundaryEvent, len(evs))
	copy(out, evs)
	return out
}

// OutgoingFlows returns a copy of the flows leaving nodeID.
func (m *MemoryModel) OutgoingFlows(nodeID string) []Flow {
	fs := m.flows[nodeID]
	out := make([]Flow, len(fs))
	copy(out, fs)
	return out
}

func (m *MemoryModel) NewLocation(nodeID, routineID string, typ LocationType, opts LocationOptions) Location {
	return newLocation(nodeID, routineID, typ, opts)
}
