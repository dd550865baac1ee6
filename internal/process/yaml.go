package process

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// modelDocument is the YAML shape of a process model:
//
//	id: order-review
//	nodes:
//	  - id: review
//	    type: userTask
//	boundary_events:
//	  - id: review-timeout
//	    attached_to: review
//	    kind: timer
//	    interrupting: false
//	    duration: PT30S
//	flows:
//	  - source: review-timeout
//	    target: escalate
type modelDocument struct {
	ID    string `yaml:"id"`
	Nodes []struct {
		ID   string `yaml:"id"`
		Type string `yaml:"type"`
	} `yaml:"nodes"`
	BoundaryEvents []boundaryEventDocument `yaml:"boundary_events"`
	Flows          []struct {
		ID        string `yaml:"id"`
		Source    string `yaml:"source"`
		Target    string `yaml:"target"`
		Condition string `yaml:"condition"`
	} `yaml:"flows"`
}

type boundaryEventDocument struct {
	ID             string `yaml:"id"`
	AttachedTo     string `yaml:"attached_to"`
	Kind           string `yaml:"kind"`
	Interrupting   *bool  `yaml:"interrupting"`
	CancelActivity *bool  `yaml:"cancel_activity"`

	Duration       string `yaml:"duration"`
	DueDate        string `yaml:"due_date"`
	Cycle          string `yaml:"cycle"`
	ErrorCode      string `yaml:"error_code"`
	MessageRef     string `yaml:"message_ref"`
	CorrelationKey string `yaml:"correlation_key"`
	SignalRef      string `yaml:"signal_ref"`
}

// ParseModelYAML decodes a process model from YAML bytes.
func ParseModelYAML(data []byte) (*MemoryModel, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("process: model payload is empty")
	}
	var doc modelDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("process: decode model: %w", err)
	}
	return doc.build()
}

// LoadModelYAML reads a process model from r.
func LoadModelYAML(r io.Reader) (*MemoryModel, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("process: read model: %w", err)
	}
	return ParseModelYAML(content)
}

// LoadModelFile reads a process model from path.
func LoadModelFile(path string) (*MemoryModel, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("process: read %s: %w", path, err)
	}
	m, err := ParseModelYAML(content)
	if err != nil {
		return nil, fmt.Errorf("process: %s: %w", path, err)
	}
	return m, nil
}

func (doc modelDocument) build() (*MemoryModel, error) {
	m := NewMemoryModel(doc.ID)
	for i, n := range doc.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("process: node %d has no id", i)
		}
		m.AddNode(n.ID, n.Type)
	}

	seen := make(map[string]struct{}, len(doc.BoundaryEvents))
	for i, be := range doc.BoundaryEvents {
		switch {
		case be.ID == "":
			return nil, fmt.Errorf("process: boundary event %d has no id", i)
		case be.AttachedTo == "":
			return nil, fmt.Errorf("process: boundary event %q has no attached_to", be.ID)
		}
		if _, dup := seen[be.ID]; dup {
			return nil, fmt.Errorf("process: duplicate boundary event %q", be.ID)
		}
		seen[be.ID] = struct{}{}

		// cancel_activity is the BPMN spelling; interrupting wins if both are set.
		interrupting := be.Interrupting
		if interrupting == nil {
			interrupting = be.CancelActivity
		}
		m.AddBoundaryEvent(BoundaryEvent{
			ID:           be.ID,
			AttachedTo:   be.AttachedTo,
			Kind:         ParseEventKind(be.Kind),
			Interrupting: interrupting,
			Definition: EventDefinition{
				Duration:       be.Duration,
				DueDate:        be.DueDate,
				Cycle:          be.Cycle,
				ErrorCode:      be.ErrorCode,
				MessageRef:     be.MessageRef,
				CorrelationKey: be.CorrelationKey,
				SignalRef:      be.SignalRef,
			},
		})
	}

	for i, f := range doc.Flows {
		if f.Source == "" || f.Target == "" {
			return nil, fmt.Errorf("process: flow %d needs source and target", i)
		}
		m.AddFlow(Flow{ID: f.ID, Source: f.Source, Target: f.Target, Condition: f.Condition})
	}
	return m, nil
}
