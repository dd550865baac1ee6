package process

// LocationType classifies what a token is doing at a node.
type LocationType string

const (
	LocationActivity        LocationType = "activity"
	LocationTimerWaiting    LocationType = "timer_waiting"
	LocationMessageWaiting  LocationType = "message_waiting"
	LocationSignalWaiting   LocationType = "signal_waiting"
	LocationEventMonitoring LocationType = "event_monitoring"
	LocationFlowTarget      LocationType = "flow_target"
)

// Location is a token's position in a process graph. It describes where
// execution resides, not the execution itself.
type Location struct {
	NodeID    string
	RoutineID string
	Type      LocationType

	// ParentNodeID is the activity a boundary-event location monitors.
	ParentNodeID string

	// EventID is the boundary event this location waits on or came from.
	EventID string

	Metadata map[string]string
}

// LocationOptions are the optional fields of a new Location.
type LocationOptions struct {
	ParentNodeID string
	EventID      string
	Metadata     map[string]string
}

func newLocation(nodeID, routineID string, typ LocationType, opts LocationOptions) Location {
	var md map[string]string
	if len(opts.Metadata) > 0 {
		md = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			md[k] = v
		}
	}
	return Location{
		NodeID:       nodeID,
		RoutineID:    routineID,
		Type:         typ,
		ParentNodeID: opts.ParentNodeID,
		EventID:      opts.EventID,
		Metadata:     md,
	}
}

// ActivityLocation is a convenience for the location of an active task.
func ActivityLocation(nodeID, routineID string) Location {
	return newLocation(nodeID, routineID, LocationActivity, LocationOptions{})
}

// BaseNodeID is the activity whose boundary events apply to this location.
func (l Location) BaseNodeID() string {
	if l.ParentNodeID != "" {
		return l.ParentNodeID
	}
	return l.NodeID
}
