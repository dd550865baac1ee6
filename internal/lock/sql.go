package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/petrijr/tokenflow/pkg/api"
)

// DefaultTable is the lease table used when none is given.
const DefaultTable = "processing_locks"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type dialect struct {
	bigint   string
	numbered bool
}

var (
	sqliteDialect   = dialect{bigint: "INTEGER"}
	postgresDialect = dialect{bigint: "BIGINT", numbered: true}
)

// ph renders the i-th (1-based) placeholder.
func (d dialect) ph(i int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// SQL is a ProcessingLock backed by a lease table in a SQL database.
//
// It expects an *sql.DB opened with a driver matching the dialect, e.g.
// "modernc.org/sqlite" for NewSQLite or "github.com/jackc/pgx/v5/stdlib"
// for NewPostgres. The caller is responsible for importing the driver.
type SQL struct {
	db      *sql.DB
	dialect dialect
	table   string
	opts    Options

	acquireQuery string
	renewQuery   string
	releaseQuery string
	holderQuery  string
}

var _ api.LockRenewer = (*SQL)(nil)

// NewSQLite initializes the lease table in db and returns a lock.
func NewSQLite(db *sql.DB, table string, opts Options) (*SQL, error) {
	return newSQL(db, sqliteDialect, table, opts)
}

// NewPostgres initializes the lease table in db and returns a lock.
func NewPostgres(db *sql.DB, table string, opts Options) (*SQL, error) {
	return newSQL(db, postgresDialect, table, opts)
}

func newSQL(db *sql.DB, d dialect, table string, opts Options) (*SQL, error) {
	if db == nil {
		return nil, errors.New("lock: db is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("lock: invalid table name %q", table)
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	s := &SQL{db: db, dialect: d, table: table, opts: opts}
	s.acquireQuery = fmt.Sprintf(`
		INSERT INTO %[1]s (lock_key, owner, expires_at)
		VALUES (%[2]s, %[3]s, %[4]s)
		ON CONFLICT (lock_key) DO UPDATE
		SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE %[1]s.expires_at <= %[5]s`,
		table, d.ph(1), d.ph(2), d.ph(3), d.ph(4))
	s.renewQuery = fmt.Sprintf(`
		UPDATE %s SET expires_at = %s
		WHERE lock_key = %s AND owner = %s AND expires_at > %s`,
		table, d.ph(1), d.ph(2), d.ph(3), d.ph(4))
	s.releaseQuery = fmt.Sprintf(`DELETE FROM %s WHERE lock_key = %s AND owner = %s`,
		table, d.ph(1), d.ph(2))
	s.holderQuery = fmt.Sprintf(`SELECT owner, expires_at FROM %s WHERE lock_key = %s`,
		table, d.ph(1))

	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQL) initSchema() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			lock_key TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at %s NOT NULL
		);`, s.table, s.dialect.bigint))
	return err
}

func (s *SQL) Acquire(ctx context.Context, key string) (bool, error) {
	now := s.opts.Now()
	res, err := s.db.ExecContext(ctx, s.acquireQuery,
		key,
		s.opts.Owner,
		now.Add(s.opts.TTL).UnixNano(),
		now.UnixNano(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQL) Release(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.releaseQuery, key, s.opts.Owner)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Nothing deleted: either missing (idempotent success) or someone
	// else's lease.
	var (
		owner   string
		expires int64
	)
	err = s.db.QueryRowContext(ctx, s.holderQuery, key).Scan(&owner, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != s.opts.Owner && s.opts.Now().UnixNano() < expires {
		return api.ErrLockNotHeld
	}
	return nil
}

func (s *SQL) Renew(ctx context.Context, key string) error {
	now := s.opts.Now()
	res, err := s.db.ExecContext(ctx, s.renewQuery,
		now.Add(s.opts.TTL).UnixNano(),
		key,
		s.opts.Owner,
		now.UnixNano(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrLockNotHeld
	}
	return nil
}

// TTL returns the lease duration.
func (s *SQL) TTL() time.Duration {
	return s.opts.TTL
}
