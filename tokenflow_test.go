package tokenflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type brokenStates struct{}

func (brokenStates) SaveState(ctx context.Context, taskID string, state RunState, at time.Time) error {
	return nil
}

func (brokenStates) LoadState(ctx context.Context, taskID string) (RunState, error) {
	return "", errors.New("connection reset")
}

func TestRestoreMachine_FromRecordedHistory(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig()
	b, err := OpenBackends(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	first, err := NewMachine(MachineConfigFrom(cfg, b, "order-7", Hooks{}))
	require.NoError(t, err)
	require.NoError(t, first.Initialize(ctx))
	require.True(t, first.Pause(ctx))

	history, err := b.Events.List(ctx, "order-7")
	require.NoError(t, err)
	var path []RunState
	for _, rec := range history {
		path = append(path, rec.Next)
	}
	require.Equal(t, []RunState{StateLoading, StateReady, StatePaused}, path)

	// A replacement machine after a restart resumes where the first left off.
	second, err := RestoreMachine(ctx, MachineConfigFrom(cfg, b, "order-7", Hooks{}), b.States)
	require.NoError(t, err)
	require.Equal(t, StatePaused, second.State())
	require.True(t, second.Resume(ctx))
	require.NoError(t, second.WaitIdle(ctx))
	require.Equal(t, StateReady, second.State())

	res := second.Stop(ctx, StopGraceful, "done")
	require.True(t, res.Success)

	state, err := b.States.LoadState(ctx, "order-7")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)
}

func TestRestoreMachine_UnknownTaskStartsFresh(t *testing.T) {
	m, err := RestoreMachine(context.Background(), MachineConfig{TaskID: "new", Logger: quietLogger()}, NewMemoryStore())
	require.NoError(t, err)
	require.Equal(t, StateUninitialized, m.State())

	m, err = RestoreMachine(context.Background(), MachineConfig{TaskID: "new", Logger: quietLogger()}, nil)
	require.NoError(t, err)
	require.Equal(t, StateUninitialized, m.State())
}

func TestRestoreMachine_StoreError(t *testing.T) {
	_, err := RestoreMachine(context.Background(), MachineConfig{TaskID: "t", Logger: quietLogger()}, brokenStates{})
	require.ErrorContains(t, err, "connection reset")

	_, err = RestoreMachine(context.Background(), MachineConfig{}, NewMemoryStore())
	require.Error(t, err, "task id is still required")
}

func TestMachineConfigFrom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Machine.QueueCapacity = 12
	cfg.Machine.DrainDelay = time.Second

	mc := MachineConfigFrom(cfg, nil, "t", Hooks{})
	require.Equal(t, "t", mc.TaskID)
	require.Equal(t, 12, mc.QueueCapacity)
	require.Equal(t, time.Second, mc.DrainDelay)
	require.Nil(t, mc.Bus)
	require.Nil(t, mc.Lock)
}
