package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContext_WithMethodsCopyOnWrite(t *testing.T) {
	base := NewContext(map[string]any{"a": 1})

	withB := base.WithVariable("b", 2)
	_, ok := base.Variable("b")
	require.False(t, ok)
	v, ok := withB.Variable("b")
	require.True(t, ok)
	require.Equal(t, 2, v)

	t1 := base.WithTimer(TimerEvent{ID: "t1", EventID: "e1"})
	_, ok = base.Timer("e1")
	require.False(t, ok)
	_, ok = t1.Timer("e1")
	require.True(t, ok)

	removed := t1.WithoutTimer("e1")
	_, ok = removed.Timer("e1")
	require.False(t, ok)
	_, ok = t1.Timer("e1")
	require.True(t, ok, "WithoutTimer leaves the receiver intact")
}

func TestContext_AppendDoesNotAlias(t *testing.T) {
	root := Context{}.RecordError(ErrorRecord{Code: "A"})

	// Two contexts derived from the same parent must not share backing arrays.
	left := root.RecordError(ErrorRecord{Code: "L"})
	right := root.RecordError(ErrorRecord{Code: "R"})

	require.Len(t, root.Errors(), 1)
	require.Equal(t, "L", left.Errors()[1].Code)
	require.Equal(t, "R", right.Errors()[1].Code)
}

func TestContext_ReceiveStampsTime(t *testing.T) {
	before := time.Now()
	ctx := Context{}.
		ReceiveMessage(MessageEvent{ID: "m1", MessageRef: "x"}).
		BroadcastSignal(SignalEvent{ID: "s1", SignalRef: "y"}).
		RecordError(ErrorRecord{Code: "E"})

	require.False(t, ctx.Messages()[0].ReceivedAt.Before(before))
	require.False(t, ctx.Signals()[0].ReceivedAt.Before(before))
	require.False(t, ctx.Errors()[0].At.Before(before))

	fixed := time.Unix(42, 0)
	ctx = ctx.ReceiveMessage(MessageEvent{ID: "m2", ReceivedAt: fixed})
	require.Equal(t, fixed, ctx.Messages()[1].ReceivedAt)

	pending := Context{}.WithMessage(MessageEvent{ID: "m3"})
	require.True(t, pending.Messages()[0].ReceivedAt.IsZero())
}

func TestContext_MessagesWithoutIDGetOne(t *testing.T) {
	ctx := Context{}.
		ReceiveMessage(MessageEvent{MessageRef: "a"}).
		WithMessage(MessageEvent{MessageRef: "b"}).
		ReceiveMessage(MessageEvent{ID: "kept", MessageRef: "c"})

	msgs := ctx.Messages()
	require.Len(t, msgs, 3)
	require.NotEmpty(t, msgs[0].ID)
	require.NotEmpty(t, msgs[1].ID)
	require.NotEqual(t, msgs[0].ID, msgs[1].ID)
	require.Equal(t, "kept", msgs[2].ID)
}

func TestContext_WithoutMessage(t *testing.T) {
	ctx := Context{}.
		ReceiveMessage(MessageEvent{ID: "m1"}).
		ReceiveMessage(MessageEvent{ID: "m2"})

	after := ctx.WithoutMessage("m1")
	require.Len(t, ctx.Messages(), 2)
	require.Len(t, after.Messages(), 1)
	require.Equal(t, "m2", after.Messages()[0].ID)

	same := after.WithoutMessage("missing")
	require.Len(t, same.Messages(), 1)
}

func TestContext_AccessorsReturnCopies(t *testing.T) {
	ctx := NewContext(map[string]any{"k": "v"}).
		ReceiveMessage(MessageEvent{ID: "m1"})

	vars := ctx.Variables()
	vars["k"] = "changed"
	v, _ := ctx.Variable("k")
	require.Equal(t, "v", v)

	msgs := ctx.Messages()
	msgs[0].ID = "changed"
	require.Equal(t, "m1", ctx.Messages()[0].ID)
}
