package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/tokenflow/pkg/api"
)

// MemoryStore is a goroutine-safe EventStore and StateStore backed by maps.
type MemoryStore struct {
	mu      sync.RWMutex
	history map[string][]HistoryRecord
	states  map[string]api.RunState
}

var (
	_ EventStore = (*MemoryStore)(nil)
	_ StateStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history: make(map[string][]HistoryRecord),
		states:  make(map[string]api.RunState),
	}
}

func (s *MemoryStore) Append(ctx context.Context, rec HistoryRecord) error {
	rec = stamp(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[rec.TaskID] = append(s.history[rec.TaskID], rec)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, taskID string) ([]HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.history[taskID]
	out := make([]HistoryRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *MemoryStore) SaveState(ctx context.Context, taskID string, state api.RunState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[taskID] = state
	return nil
}

func (s *MemoryStore) LoadState(ctx context.Context, taskID string) (api.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[taskID]
	if !ok {
		return "", ErrTaskNotFound
	}
	return state, nil
}
