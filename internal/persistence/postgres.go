package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/petrijr/tokenflow/pkg/api"
)

// PostgresStore keeps task history and latest states in PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver. The caller is
// responsible for importing the driver for its side effects, e.g.:
//
//	_ "github.com/jackc/pgx/v5/stdlib"
type PostgresStore struct {
	db *sql.DB
}

var (
	_ EventStore = (*PostgresStore)(nil)
	_ StateStore = (*PostgresStore)(nil)
)

// NewPostgresStore initializes the schema in db and returns a store.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("persistence: db is required")
	}
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_history (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			at BIGINT NOT NULL,
			type TEXT NOT NULL,
			previous TEXT NOT NULL DEFAULT '',
			next TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_task_history_task_id ON task_history(task_id, id);

		CREATE TABLE IF NOT EXISTS task_states (
			task_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, rec HistoryRecord) error {
	rec = stamp(rec)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history (task_id, at, type, previous, next, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TaskID,
		rec.At.UnixNano(),
		string(rec.Type),
		string(rec.Previous),
		string(rec.Next),
		rec.Detail,
	)
	return err
}

func (s *PostgresStore) List(ctx context.Context, taskID string) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, at, type, previous, next, detail
		FROM task_history
		WHERE task_id = $1
		ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistory(rows)
}

func (s *PostgresStore) SaveState(ctx context.Context, taskID string, state api.RunState, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_states (task_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (task_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		taskID, string(state), at.UnixNano())
	return err
}

func (s *PostgresStore) LoadState(ctx context.Context, taskID string) (api.RunState, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM task_states WHERE task_id = $1`, taskID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTaskNotFound
	}
	if err != nil {
		return "", err
	}
	return api.RunState(state), nil
}
