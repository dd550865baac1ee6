package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/petrijr/tokenflow/pkg/api"
)

// SQLiteStore keeps task history and latest states in SQLite.
//
// It expects an *sql.DB opened with the "sqlite" driver from
// modernc.org/sqlite; the caller imports the driver.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ EventStore = (*SQLiteStore)(nil)
	_ StateStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the schema in db and returns a store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("persistence: db is required")
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			previous TEXT NOT NULL DEFAULT '',
			next TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_task_history_task_id ON task_history(task_id, id);

		CREATE TABLE IF NOT EXISTS task_states (
			task_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, rec HistoryRecord) error {
	rec = stamp(rec)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history (task_id, at, type, previous, next, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TaskID,
		rec.At.UnixNano(),
		string(rec.Type),
		string(rec.Previous),
		string(rec.Next),
		rec.Detail,
	)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, taskID string) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, at, type, previous, next, detail
		FROM task_history
		WHERE task_id = ?
		ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistory(rows)
}

func (s *SQLiteStore) SaveState(ctx context.Context, taskID string, state api.RunState, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_states (task_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		taskID, string(state), at.UnixNano())
	return err
}

func (s *SQLiteStore) LoadState(ctx context.Context, taskID string) (api.RunState, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM task_states WHERE task_id = ?`, taskID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTaskNotFound
	}
	if err != nil {
		return "", err
	}
	return api.RunState(state), nil
}

func scanHistory(rows *sql.Rows) ([]HistoryRecord, error) {
	var out []HistoryRecord
	for rows.Next() {
		var (
			taskID string
			atN    int64
			typ    string
			prev   string
			next   string
			detail string
		)
		if err := rows.Scan(&taskID, &atN, &typ, &prev, &next, &detail); err != nil {
			return nil, err
		}
		out = append(out, HistoryRecord{
			TaskID:   taskID,
			At:       time.Unix(0, atN),
			Type:     HistoryType(typ),
			Previous: api.RunState(prev),
			Next:     api.RunState(next),
			Detail:   detail,
		})
	}
	return out, rows.Err()
}
