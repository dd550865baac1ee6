package process

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestEvaluator(clock *fakeClock) Evaluator {
	return Evaluator{Clock: clock.Now, NewID: sequentialIDs()}
}

func boolPtr(b bool) *bool { return &b }

func targets(locs []Location) []string {
	out := make([]string, 0, len(locs))
	for _, l := range locs {
		out = append(out, l.NodeID)
	}
	return out
}

func timerModel(def EventDefinition, interrupting *bool) *MemoryModel {
	return NewMemoryModel("timers").
		AddNode("review", "userTask").
		AddBoundaryEvent(BoundaryEvent{
			ID:           "review-timeout",
			AttachedTo:   "review",
			Kind:         KindTimer,
			Interrupting: interrupting,
			Definition:   def,
		}).
		AddFlow(Flow{ID: "f-escalate", Source: "review-timeout", Target: "escalate"}).
		AddFlow(Flow{ID: "f-notify", Source: "review-timeout", Target: "notify"})
}

func TestEvaluate_TimerFiresExactlyOnceAtExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	ev := newTestEvaluator(clock)
	model := timerModel(EventDefinition{Duration: "PT30S"}, nil)
	loc := ActivityLocation("review", "r1")

	res, err := ev.Evaluate(model, loc, Context{})
	require.NoError(t, err)
	require.False(t, res.ShouldTerminate)
	require.Empty(t, res.FiredEvents)
	require.Len(t, res.NextLocations, 1)
	require.Equal(t, LocationTimerWaiting, res.NextLocations[0].Type)
	require.Equal(t, "review", res.NextLocations[0].ParentNodeID)
	require.Equal(t, "review-timeout", res.NextLocations[0].EventID)

	timer, ok := res.Context.Timer("review-timeout")
	require.True(t, ok)
	require.Equal(t, clock.now.Add(30*time.Second), timer.ExpiresAt)
	require.Equal(t, "review", timer.AttachedTo)

	clock.Advance(29 * time.Second)
	res, err = ev.Evaluate(model, loc, res.Context)
	require.NoError(t, err)
	require.Empty(t, res.FiredEvents)
	require.Equal(t, LocationTimerWaiting, res.NextLocations[0].Type)
	still, ok := res.Context.Timer("review-timeout")
	require.True(t, ok, "timer kept while waiting")
	require.Equal(t, timer, still)

	clock.Advance(time.Second)
	res, err = ev.Evaluate(model, loc, res.Context)
	require.NoError(t, err)
	require.Len(t, res.FiredEvents, 1)
	fired := res.FiredEvents[0]
	require.Equal(t, "review-timeout", fired.EventID)
	require.Equal(t, KindTimer, fired.Kind)
	require.Equal(t, "review", fired.Source)
	require.Equal(t, clock.now, fired.FiredAt)
	require.True(t, res.ShouldTerminate)
	require.Equal(t, []string{"escalate", "notify"}, targets(res.NextLocations))
	for _, l := range res.NextLocations {
		require.Equal(t, LocationFlowTarget, l.Type)
		require.Equal(t, "r1", l.RoutineID)
		require.Equal(t, "review-timeout", l.EventID)
	}
	require.Equal(t, "f-escalate", res.NextLocations[0].Metadata["flow_id"])

	_, ok = res.Context.Timer("review-timeout")
	require.False(t, ok, "fired timer is removed")
	require.Equal(t, []EventInstance{fired}, res.Context.FiredEvents())
}

func TestEvaluate_ZeroDurationFiresOnSecondCall(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ev := newTestEvaluator(clock)
	model := timerModel(EventDefinition{Duration: "PT0S"}, nil)
	loc := ActivityLocation("review", "r1")

	first, err := ev.Evaluate(model, loc, Context{})
	require.NoError(t, err)
	require.Empty(t, first.FiredEvents, "first call only registers the timer")
	timer, _ := first.Context.Timer("review-timeout")
	require.Equal(t, clock.now, timer.ExpiresAt)

	second, err := ev.Evaluate(model, loc, first.Context)
	require.NoError(t, err)
	require.Len(t, second.FiredEvents, 1)
	require.True(t, second.ShouldTerminate)
}

func TestEvaluate_TimerDueDateWinsOverDuration(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ev := newTestEvaluator(clock)
	model := timerModel(EventDefinition{
		Duration: "PT1S",
		DueDate:  "2026-03-01T13:00:00Z",
	}, nil)

	res, err := ev.Evaluate(model, ActivityLocation("review", "r1"), Context{})
	require.NoError(t, err)
	timer, ok := res.Context.Timer("review-timeout")
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), timer.ExpiresAt.UTC())
}

func TestEvaluate_TimerDeadlineFallbacks(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		def  EventDefinition
		want time.Duration
	}{
		{name: "no duration", def: EventDefinition{}, want: DefaultTimerDuration},
		{name: "unparseable duration", def: EventDefinition{Duration: "P2D"}, want: DefaultTimerDuration},
		{name: "invalid due date", def: EventDefinition{DueDate: "tomorrow", Duration: "PT10M"}, want: 10 * time.Minute},
		{name: "cycle interval", def: EventDefinition{Cycle: "R3/PT10S"}, want: 10 * time.Second},
		{name: "duration beats cycle", def: EventDefinition{Cycle: "R3/PT10S", Duration: "PT1M"}, want: time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := &fakeClock{now: start}
			ev := newTestEvaluator(clock)
			res, err := ev.Evaluate(timerModel(tc.def, nil), ActivityLocation("review", "r1"), Context{})
			require.NoError(t, err)
			timer, ok := res.Context.Timer("review-timeout")
			require.True(t, ok)
			require.Equal(t, start.Add(tc.want), timer.ExpiresAt)
		})
	}
}

func TestEvaluate_NonInterruptingTimer(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	ev := newTestEvaluator(clock)
	model := timerModel(EventDefinition{Duration: "PT1S"}, boolPtr(false))
	loc := ActivityLocation("review", "r1")

	res, err := ev.Evaluate(model, loc, Context{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	res, err = ev.Evaluate(model, loc, res.Context)
	require.NoError(t, err)
	require.Len(t, res.FiredEvents, 1)
	require.False(t, res.ShouldTerminate)
}

func TestEvaluate_InputContextIsNeverModified(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	ev := newTestEvaluator(clock)
	model := NewMemoryModel("cow").
		AddBoundaryEvent(BoundaryEvent{ID: "t", AttachedTo: "task", Kind: KindTimer, Definition: EventDefinition{Duration: "PT5S"}}).
		AddBoundaryEvent(BoundaryEvent{ID: "m", AttachedTo: "task", Kind: KindMessage, Interrupting: boolPtr(false), Definition: EventDefinition{MessageRef: "paid"}})

	in := NewContext(map[string]any{"order": "o-1"}).
		ReceiveMessage(MessageEvent{ID: "msg-1", MessageRef: "paid"})

	res, err := ev.Evaluate(model, ActivityLocation("task", "r1"), in)
	require.NoError(t, err)

	_, ok := in.Timer("t")
	require.False(t, ok, "input context gained a timer")
	require.Len(t, in.Messages(), 1, "input context lost its message")
	require.Empty(t, in.FiredEvents())

	_, ok = res.Context.Timer("t")
	require.True(t, ok)
	require.Empty(t, res.Context.Messages())
	v, _ := res.Context.Variable("order")
	require.Equal(t, "o-1", v)
}

func errorModel(code string) *MemoryModel {
	return NewMemoryModel("errors").
		AddBoundaryEvent(BoundaryEvent{
			ID:           "payment-failed",
			AttachedTo:   "charge",
			Kind:         KindError,
			Interrupting: boolPtr(false),
			Definition:   EventDefinition{ErrorCode: code},
		}).
		AddFlow(Flow{Source: "payment-failed", Target: "refund"})
}

func TestEvaluate_ErrorBoundaryAlwaysInterrupts(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	loc := ActivityLocation("charge", "r1")

	ctx := Context{}.RecordError(ErrorRecord{Code: "CARD_DECLINED", NodeID: "charge"})
	res, err := ev.Evaluate(errorModel("CARD_DECLINED"), loc, ctx)
	require.NoError(t, err)
	require.True(t, res.ShouldTerminate, "error events interrupt even when declared non-interrupting")
	require.Equal(t, []string{"refund"}, targets(res.NextLocations))
	require.Len(t, res.FiredEvents, 1)
	rec, ok := res.FiredEvents[0].Payload.(ErrorRecord)
	require.True(t, ok)
	require.Equal(t, "CARD_DECLINED", rec.Code)
}

func TestEvaluate_ErrorBoundaryMatching(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	loc := ActivityLocation("charge", "r1")
	ctx := Context{}.RecordError(ErrorRecord{Code: "TIMEOUT"})

	res, err := ev.Evaluate(errorModel("CARD_DECLINED"), loc, ctx)
	require.NoError(t, err)
	require.False(t, res.ShouldTerminate)
	require.Empty(t, res.FiredEvents)
	require.Len(t, res.NextLocations, 1)
	require.Equal(t, LocationEventMonitoring, res.NextLocations[0].Type)

	res, err = ev.Evaluate(errorModel(""), loc, ctx)
	require.NoError(t, err)
	require.True(t, res.ShouldTerminate, "no declared code matches any error")

	res, err = ev.Evaluate(errorModel(""), loc, Context{})
	require.NoError(t, err)
	require.False(t, res.ShouldTerminate, "no recorded errors, nothing fires")
}

func messageModel(interrupting *bool, correlation string) *MemoryModel {
	return NewMemoryModel("messages").
		AddBoundaryEvent(BoundaryEvent{
			ID:           "cancel-request",
			AttachedTo:   "ship",
			Kind:         KindMessage,
			Interrupting: interrupting,
			Definition:   EventDefinition{MessageRef: "order.cancel", CorrelationKey: correlation},
		}).
		AddFlow(Flow{Source: "cancel-request", Target: "cancel-order"})
}

func TestEvaluate_NonInterruptingMessageNeverTerminates(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	ctx := Context{}.ReceiveMessage(MessageEvent{ID: "m1", MessageRef: "order.cancel", Payload: "please"})

	res, err := ev.Evaluate(messageModel(boolPtr(false), ""), ActivityLocation("ship", "r1"), ctx)
	require.NoError(t, err)
	require.False(t, res.ShouldTerminate)
	require.Len(t, res.FiredEvents, 1)
	require.Equal(t, []string{"cancel-order"}, targets(res.NextLocations))
	require.Empty(t, res.Context.Messages(), "matched message is consumed")
}

func TestEvaluate_InterruptingMessageByDefault(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	ctx := Context{}.ReceiveMessage(MessageEvent{ID: "m1", MessageRef: "order.cancel"})

	res, err := ev.Evaluate(messageModel(nil, ""), ActivityLocation("ship", "r1"), ctx)
	require.NoError(t, err)
	require.True(t, res.ShouldTerminate)
}

func TestEvaluate_MessageRequiresReceiptAndCorrelation(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	loc := ActivityLocation("ship", "r1")
	model := messageModel(nil, "order-7")

	pending := Context{}.WithMessage(MessageEvent{ID: "m0", MessageRef: "order.cancel", CorrelationKey: "order-7"})
	res, err := ev.Evaluate(model, loc, pending)
	require.NoError(t, err)
	require.Empty(t, res.FiredEvents, "unreceived messages are ignored")
	require.Equal(t, LocationMessageWaiting, res.NextLocations[0].Type)

	other := Context{}.ReceiveMessage(MessageEvent{ID: "m1", MessageRef: "order.cancel", CorrelationKey: "order-8"})
	res, err = ev.Evaluate(model, loc, other)
	require.NoError(t, err)
	require.Empty(t, res.FiredEvents, "correlation key mismatch")
	require.Len(t, res.Context.Messages(), 1)

	both := other.ReceiveMessage(MessageEvent{ID: "m2", MessageRef: "order.cancel", CorrelationKey: "order-7"})
	res, err = ev.Evaluate(model, loc, both)
	require.NoError(t, err)
	require.Len(t, res.FiredEvents, 1)
	msg := res.FiredEvents[0].Payload.(MessageEvent)
	require.Equal(t, "m2", msg.ID)
	remaining := res.Context.Messages()
	require.Len(t, remaining, 1)
	require.Equal(t, "m1", remaining[0].ID)
}

func TestEvaluate_ConsumesTheMatchedMessageOnly(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	loc := ActivityLocation("ship", "r1")
	model := messageModel(boolPtr(false), "")

	cases := []struct {
		name string
		ctx  Context
	}{
		{
			name: "no ids",
			ctx: Context{}.
				WithMessage(MessageEvent{MessageRef: "other"}).
				ReceiveMessage(MessageEvent{MessageRef: "order.cancel"}),
		},
		{
			name: "duplicate ids",
			ctx: Context{}.
				WithMessage(MessageEvent{ID: "dup", MessageRef: "other"}).
				ReceiveMessage(MessageEvent{ID: "dup", MessageRef: "order.cancel"}),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ev.Evaluate(model, loc, tc.ctx)
			require.NoError(t, err)
			require.Len(t, res.FiredEvents, 1)

			remaining := res.Context.Messages()
			require.Len(t, remaining, 1)
			require.Equal(t, "other", remaining[0].MessageRef)

			res, err = ev.Evaluate(model, loc, res.Context)
			require.NoError(t, err)
			require.Empty(t, res.FiredEvents, "a consumed message never fires again")
		})
	}
}

func TestEvaluate_SignalIsBroadcastNotConsumed(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	model := NewMemoryModel("signals").
		AddBoundaryEvent(BoundaryEvent{ID: "audit", AttachedTo: "a", Kind: KindSignal, Interrupting: boolPtr(false), Definition: EventDefinition{SignalRef: "freeze"}}).
		AddBoundaryEvent(BoundaryEvent{ID: "halt", AttachedTo: "a", Kind: KindSignal, Interrupting: boolPtr(false), Definition: EventDefinition{SignalRef: "freeze"}}).
		AddFlow(Flow{Source: "audit", Target: "log-audit"}).
		AddFlow(Flow{Source: "halt", Target: "halt-task"})

	ctx := Context{}.BroadcastSignal(SignalEvent{ID: "s1", SignalRef: "freeze"})
	res, err := ev.Evaluate(model, ActivityLocation("a", "r1"), ctx)
	require.NoError(t, err)
	require.Len(t, res.FiredEvents, 2, "both listeners react to one signal")
	require.Equal(t, []string{"log-audit", "halt-task"}, targets(res.NextLocations))
	require.Len(t, res.Context.Signals(), 1)

	res, err = ev.Evaluate(model, ActivityLocation("a", "r1"), Context{})
	require.NoError(t, err)
	require.Empty(t, res.FiredEvents)
	require.Equal(t, LocationSignalWaiting, res.NextLocations[0].Type)
}

func TestEvaluate_FirstInterruptingEventStopsSiblings(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	model := NewMemoryModel("aggregate").
		AddBoundaryEvent(BoundaryEvent{ID: "notify", AttachedTo: "task", Kind: KindSignal, Interrupting: boolPtr(false), Definition: EventDefinition{SignalRef: "ping"}}).
		AddBoundaryEvent(BoundaryEvent{ID: "abort", AttachedTo: "task", Kind: KindMessage, Definition: EventDefinition{MessageRef: "abort"}}).
		AddBoundaryEvent(BoundaryEvent{ID: "deadline", AttachedTo: "task", Kind: KindTimer, Definition: EventDefinition{Duration: "PT1M"}}).
		AddFlow(Flow{Source: "notify", Target: "send-ping"}).
		AddFlow(Flow{Source: "abort", Target: "aborted"}).
		AddFlow(Flow{Source: "deadline", Target: "late"})

	ctx := Context{}.
		BroadcastSignal(SignalEvent{ID: "s1", SignalRef: "ping"}).
		ReceiveMessage(MessageEvent{ID: "m1", MessageRef: "abort"})

	res, err := ev.Evaluate(model, ActivityLocation("task", "r1"), ctx)
	require.NoError(t, err)
	require.True(t, res.ShouldTerminate)
	require.Equal(t, []string{"send-ping", "aborted"}, targets(res.NextLocations))
	require.Len(t, res.FiredEvents, 2)
	_, ok := res.Context.Timer("deadline")
	require.False(t, ok, "events after the interrupting one are not evaluated")
}

func TestEvaluate_UsesParentNodeForBoundaryLocations(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	model := timerModel(EventDefinition{Duration: "PT1M"}, nil)

	waiting := Location{NodeID: "review-timeout", RoutineID: "r1", Type: LocationTimerWaiting, ParentNodeID: "review"}
	res, err := ev.Evaluate(model, waiting, Context{})
	require.NoError(t, err)
	require.Len(t, res.NextLocations, 1)
	_, ok := res.Context.Timer("review-timeout")
	require.True(t, ok)
}

func TestEvaluate_UnknownAndCompensationAreMonitored(t *testing.T) {
	ev := newTestEvaluator(&fakeClock{now: time.Unix(0, 0)})
	model := NewMemoryModel("misc").
		AddBoundaryEvent(BoundaryEvent{ID: "comp", AttachedTo: "task", Kind: KindCompensation}).
		AddBoundaryEvent(BoundaryEvent{ID: "odd", AttachedTo: "task", Kind: ParseEventKind("escalation")})

	res, err := ev.Evaluate(model, ActivityLocation("task", "r1"), Context{})
	require.NoError(t, err)
	require.False(t, res.ShouldTerminate)
	require.Empty(t, res.FiredEvents)
	require.Len(t, res.NextLocations, 2)
	for _, l := range res.NextLocations {
		require.Equal(t, LocationEventMonitoring, l.Type)
		require.Equal(t, "task", l.ParentNodeID)
	}
}

func TestEvaluate_NoBoundaryEvents(t *testing.T) {
	ev := Evaluator{}
	in := NewContext(nil)
	res, err := ev.Evaluate(NewMemoryModel("empty"), ActivityLocation("task", "r1"), in)
	require.NoError(t, err)
	require.Empty(t, res.NextLocations)
	require.False(t, res.ShouldTerminate)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	ev := Evaluator{}
	_, err := ev.Evaluate(nil, ActivityLocation("task", "r1"), Context{})
	require.ErrorIs(t, err, ErrNoModel)

	_, err = ev.Evaluate(NewMemoryModel("m"), Location{}, Context{})
	require.ErrorIs(t, err, ErrNoNode)
}

func TestParseEventKind(t *testing.T) {
	require.Equal(t, KindTimer, ParseEventKind("Timer"))
	require.Equal(t, KindError, ParseEventKind(" error "))
	require.Equal(t, KindMessage, ParseEventKind("message"))
	require.Equal(t, KindSignal, ParseEventKind("signal"))
	require.Equal(t, KindCompensation, ParseEventKind("compensation"))
	require.Equal(t, KindUnknown, ParseEventKind("conditional"))
	require.Equal(t, "timer", KindTimer.String())
}
