package process

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const orderModelYAML = `
id: order-fulfilment
nodes:
  - id: review
    type: userTask
  - id: ship
    type: serviceTask
boundary_events:
  - id: review-timeout
    attached_to: review
    kind: timer
    duration: PT30S
    cancel_activity: false
  - id: review-failed
    attached_to: review
    kind: error
    error_code: REJECTED
  - id: cancel-request
    attached_to: ship
    kind: message
    message_ref: order.cancel
    correlation_key: order-7
  - id: mystery
    attached_to: ship
    kind: escalation
flows:
  - id: f1
    source: review-timeout
    target: remind
  - source: review-failed
    target: reject
    condition: "amount > 100"
`

func TestLoadModelYAML(t *testing.T) {
	m, err := LoadModelYAML(strings.NewReader(orderModelYAML))
	require.NoError(t, err)
	require.Equal(t, "order-fulfilment", m.ID())
	require.True(t, m.HasNode("review"))
	require.True(t, m.HasNode("review-timeout"))

	review := m.BoundaryEvents("review")
	require.Len(t, review, 2)
	require.Equal(t, "review-timeout", review[0].ID, "declaration order preserved")
	require.Equal(t, KindTimer, review[0].Kind)
	require.False(t, review[0].IsInterrupting())
	require.Equal(t, "PT30S", review[0].Definition.Duration)
	require.Equal(t, KindError, review[1].Kind)
	require.Equal(t, "REJECTED", review[1].Definition.ErrorCode)

	ship := m.BoundaryEvents("ship")
	require.Len(t, ship, 2)
	require.Equal(t, "order.cancel", ship[0].Definition.MessageRef)
	require.Equal(t, "order-7", ship[0].Definition.CorrelationKey)
	require.True(t, ship[0].IsInterrupting())
	require.Equal(t, KindUnknown, ship[1].Kind)

	flows := m.OutgoingFlows("review-failed")
	require.Len(t, flows, 1)
	require.Equal(t, "review-failed->reject", flows[0].ID)
	require.Equal(t, "amount > 100", flows[0].Condition)
}

func TestLoadModelYAML_DrivesEvaluator(t *testing.T) {
	m, err := ParseModelYAML([]byte(orderModelYAML))
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(1000, 0)}
	ev := newTestEvaluator(clock)
	loc := ActivityLocation("review", "r1")

	res, err := ev.Evaluate(m, loc, Context{})
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	res, err = ev.Evaluate(m, loc, res.Context)
	require.NoError(t, err)

	require.False(t, res.ShouldTerminate)
	require.Len(t, res.FiredEvents, 1)
	require.Contains(t, targets(res.NextLocations), "remind")
}

func TestParseModelYAML_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":          "   ",
		"malformed":      "nodes: [",
		"missing id":     "boundary_events:\n  - attached_to: a\n    kind: timer\n",
		"missing attach": "boundary_events:\n  - id: x\n    kind: timer\n",
		"duplicate":      "boundary_events:\n  - {id: x, attached_to: a}\n  - {id: x, attached_to: b}\n",
		"bad flow":       "flows:\n  - source: a\n",
		"bad node":       "nodes:\n  - type: task\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseModelYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadModelFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(orderModelYAML), 0o600))

	m, err := LoadModelFile(path)
	require.NoError(t, err)
	require.Equal(t, "order-fulfilment", m.ID())

	_, err = LoadModelFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
