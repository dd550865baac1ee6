package tokenflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/tokenflow/internal/config"
	"github.com/petrijr/tokenflow/internal/machine"
	"github.com/petrijr/tokenflow/internal/persistence"
	"github.com/petrijr/tokenflow/internal/process"
	"github.com/petrijr/tokenflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	RunState           = api.RunState
	Event              = api.Event
	Handler            = api.Handler
	EventBus           = api.EventBus
	Publisher          = api.Publisher
	EmitResult         = api.EmitResult
	StateChange        = api.StateChange
	CoordinationConfig = api.CoordinationConfig
	ProcessingLock     = api.ProcessingLock
	ManagedTask        = api.ManagedTask
	StopMode           = api.StopMode
	StopResult         = api.StopResult

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	NoopLock             = api.NoopLock
	NoopPublisher        = api.NoopPublisher
)

// Machine types.

type (
	Machine       = machine.Machine
	MachineConfig = machine.Config
	Hooks         = machine.Hooks
)

// Process evaluation types.

type (
	Model           = process.Model
	MemoryModel     = process.MemoryModel
	BoundaryEvent   = process.BoundaryEvent
	EventDefinition = process.EventDefinition
	EventKind       = process.EventKind
	Flow            = process.Flow
	Location        = process.Location
	LocationType    = process.LocationType
	LocationOptions = process.LocationOptions
	Context         = process.Context
	Evaluator       = process.Evaluator
	EvalResult      = process.Result
	EventInstance   = process.EventInstance
	TimerEvent      = process.TimerEvent
	MessageEvent    = process.MessageEvent
	SignalEvent     = process.SignalEvent
	ErrorRecord     = process.ErrorRecord
)

// Persistence and configuration types.

type (
	EventStore    = persistence.EventStore
	StateStore    = persistence.StateStore
	HistoryRecord = persistence.HistoryRecord
	Config        = config.Config
	Backends      = config.Backends
)

// Re-export run states.

const (
	StateUninitialized = api.StateUninitialized
	StateLoading       = api.StateLoading
	StateConfiguring   = api.StateConfiguring
	StateReady         = api.StateReady
	StateRunning       = api.StateRunning
	StatePaused        = api.StatePaused
	StateSuspended     = api.StateSuspended
	StateCompleted     = api.StateCompleted
	StateFailed        = api.StateFailed
	StateCancelled     = api.StateCancelled

	StopGraceful = api.StopGraceful
	StopForce    = api.StopForce
)

// Re-export boundary event kinds.

const (
	KindTimer        = process.KindTimer
	KindError        = process.KindError
	KindMessage      = process.KindMessage
	KindSignal       = process.KindSignal
	KindCompensation = process.KindCompensation

	DefaultTimerDuration = process.DefaultTimerDuration
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	LockKey              = api.LockKey

	NewContext       = process.NewContext
	NewMemoryModel   = process.NewMemoryModel
	ActivityLocation = process.ActivityLocation
	ParseISODuration = process.ParseDuration
	ParseModelYAML   = process.ParseModelYAML
	LoadModelFile    = process.LoadModelFile
	NewMemoryStore   = persistence.NewMemoryStore
	LoadConfig       = config.Load
	DefaultConfig    = config.Default

	ErrTaskNotFound = persistence.ErrTaskNotFound
	ErrInvalidState = api.ErrInvalidState
	ErrLockNotHeld  = api.ErrLockNotHeld
	ErrNoModel      = process.ErrNoModel
	ErrNoNode       = process.ErrNoNode
)

// NewMachine constructs a Machine in StateUninitialized.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	return machine.New(cfg)
}

// RestoreMachine constructs a Machine and seeds it with the last state
// recorded for cfg.TaskID in states. A task without a recorded state starts
// in StateUninitialized.
func RestoreMachine(ctx context.Context, cfg MachineConfig, states StateStore) (*Machine, error) {
	m, err := machine.New(cfg)
	if err != nil {
		return nil, err
	}
	if states == nil {
		return m, nil
	}

	state, err := states.LoadState(ctx, cfg.TaskID)
	switch {
	case errors.Is(err, persistence.ErrTaskNotFound):
		return m, nil
	case err != nil:
		return nil, fmt.Errorf("tokenflow: load state of %s: %w", cfg.TaskID, err)
	case state == api.StateUninitialized:
		return m, nil
	}
	if err := m.Restore(ctx, state); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenBackends builds the lock, bus and history store selected by cfg.
func OpenBackends(ctx context.Context, cfg Config) (*Backends, error) {
	return config.Open(ctx, cfg, cfg.NewLogger())
}

// MachineConfigFrom returns a MachineConfig for taskID wired to the given
// backends and the queue settings of cfg.
func MachineConfigFrom(cfg Config, b *Backends, taskID string, hooks Hooks) MachineConfig {
	mc := cfg.MachineDefaults()
	mc.TaskID = taskID
	mc.Hooks = hooks
	if b != nil {
		mc.Bus = b.Bus
		mc.Publisher = b.Publisher
		mc.Lock = b.Lock
	}
	return mc
}
