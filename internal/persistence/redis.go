package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/tokenflow/pkg/api"
)

// RedisStore keeps task history and latest states in Redis:
//
//	<prefix>history:<task>  => LIST of gob-encoded HistoryRecord
//	<prefix>state:<task>    => HASH {state, updated_at}
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ EventStore = (*RedisStore)(nil)
	_ StateStore = (*RedisStore)(nil)
)

// NewRedisStore creates a RedisStore. prefix is optional but recommended
// (e.g. "tokenflow:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tokenflow:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyHistory(taskID string) string {
	return s.prefix + "history:" + taskID
}

func (s *RedisStore) keyState(taskID string) string {
	return s.prefix + "state:" + taskID
}

func (s *RedisStore) Append(ctx context.Context, rec HistoryRecord) error {
	rec = stamp(rec)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	return s.client.RPush(ctx, s.keyHistory(rec.TaskID), buf.Bytes()).Err()
}

func (s *RedisStore) List(ctx context.Context, taskID string) ([]HistoryRecord, error) {
	raw, err := s.client.LRange(ctx, s.keyHistory(taskID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]HistoryRecord, 0, len(raw))
	for _, item := range raw {
		var rec HistoryRecord
		if err := gob.NewDecoder(bytes.NewReader([]byte(item))).Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) SaveState(ctx context.Context, taskID string, state api.RunState, at time.Time) error {
	return s.client.HSet(ctx, s.keyState(taskID),
		"state", string(state),
		"updated_at", at.UnixNano(),
	).Err()
}

func (s *RedisStore) LoadState(ctx context.Context, taskID string) (api.RunState, error) {
	state, err := s.client.HGet(ctx, s.keyState(taskID), "state").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTaskNotFound
	}
	if err != nil {
		return "", err
	}
	return api.RunState(state), nil
}
