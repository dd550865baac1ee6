package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // "pgx" database/sql driver
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite" // "sqlite" database/sql driver

	"github.com/petrijr/tokenflow/internal/bus"
	"github.com/petrijr/tokenflow/internal/lock"
	"github.com/petrijr/tokenflow/internal/persistence"
	"github.com/petrijr/tokenflow/pkg/api"
)

// Backends holds the collaborators built from a Config. Connections are
// opened once and shared between the lock, bus and store that need them.
type Backends struct {
	Lock      api.ProcessingLock
	Bus       api.EventBus
	Publisher api.Publisher

	// Events and States are nil when store.backend is "none".
	Events persistence.EventStore
	States persistence.StateStore

	redis    *redis.Client
	sqlite   *sql.DB
	postgres *sql.DB
	mongo    *mongo.Client
	closers  []func() error
}

// Open builds every configured backend. On error, anything already opened
// is closed.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (_ *Backends, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	if b.Lock, err = b.openLock(ctx, cfg); err != nil {
		return nil, fmt.Errorf("config: lock: %w", err)
	}
	if err = b.openBus(ctx, cfg, logger); err != nil {
		return nil, fmt.Errorf("config: bus: %w", err)
	}
	if err = b.openStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("config: store: %w", err)
	}

	// State changes are recorded before they reach the bus.
	if b.Events != nil || b.States != nil {
		b.Publisher = persistence.NewRecordingPublisher(b.Publisher, b.Events, b.States, logger)
	}
	return b, nil
}

func (b *Backends) openLock(ctx context.Context, cfg Config) (api.ProcessingLock, error) {
	opts := lock.Options{Owner: cfg.Lock.Owner, TTL: cfg.Lock.TTL}

	switch cfg.Lock.Backend {
	case LockNoop:
		return api.NoopLock{}, nil
	case LockMemory:
		return lock.NewMemory(opts)
	case LockRedis:
		client, err := b.redisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return lock.NewRedis(client, cfg.Store.Prefix, opts)
	case LockSQLite:
		db, err := b.sqliteDB(cfg)
		if err != nil {
			return nil, err
		}
		return lock.NewSQLite(db, cfg.Lock.Table, opts)
	case LockPostgres:
		db, err := b.postgresDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return lock.NewPostgres(db, cfg.Lock.Table, opts)
	case LockMongo:
		client, err := b.mongoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return lock.NewMongo(client, cfg.Mongo.Database, cfg.Lock.Table, opts)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Lock.Backend)
	}
}

func (b *Backends) openBus(ctx context.Context, cfg Config, logger *slog.Logger) error {
	switch cfg.Bus.Backend {
	case BusMemory:
		m := bus.NewMemory(logger)
		b.Bus, b.Publisher = m, m
		return nil
	case BusRedis:
		client, err := b.redisClient(ctx, cfg)
		if err != nil {
			return err
		}
		r, err := bus.NewRedis(client, cfg.Bus.Prefix, logger)
		if err != nil {
			return err
		}
		b.Bus, b.Publisher = r, r
		b.closers = append(b.closers, r.Close)
		return nil
	default:
		return fmt.Errorf("unknown backend %q", cfg.Bus.Backend)
	}
}

func (b *Backends) openStore(ctx context.Context, cfg Config) error {
	switch cfg.Store.Backend {
	case StoreNone:
		return nil
	case StoreMemory:
		s := persistence.NewMemoryStore()
		b.Events, b.States = s, s
		return nil
	case StoreSQLite:
		db, err := b.sqliteDB(cfg)
		if err != nil {
			return err
		}
		s, err := persistence.NewSQLiteStore(db)
		if err != nil {
			return err
		}
		b.Events, b.States = s, s
		return nil
	case StorePostgres:
		db, err := b.postgresDB(ctx, cfg)
		if err != nil {
			return err
		}
		s, err := persistence.NewPostgresStore(db)
		if err != nil {
			return err
		}
		b.Events, b.States = s, s
		return nil
	case StoreRedis:
		client, err := b.redisClient(ctx, cfg)
		if err != nil {
			return err
		}
		s := persistence.NewRedisStore(client, cfg.Store.Prefix)
		b.Events, b.States = s, s
		return nil
	default:
		return fmt.Errorf("unknown backend %q", cfg.Store.Backend)
	}
}

func (b *Backends) redisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	b.redis = client
	return client, nil
}

func (b *Backends) sqliteDB(cfg Config) (*sql.DB, error) {
	if b.sqlite != nil {
		return b.sqlite, nil
	}
	db, err := sql.Open("sqlite", cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared between the lock and the store.
	db.SetMaxOpenConns(1)
	if cfg.SQLite.Path != ":memory:" {
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	b.sqlite = db
	return db, nil
}

func (b *Backends) postgresDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	if b.postgres != nil {
		return b.postgres, nil
	}
	db, err := sql.Open("pgx", cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	b.postgres = db
	return db, nil
}

func (b *Backends) mongoClient(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if b.mongo != nil {
		return b.mongo, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	b.mongo = client
	return client, nil
}

// Close releases every connection opened by Open.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil

	if b.redis != nil {
		errs = append(errs, b.redis.Close())
		b.redis = nil
	}
	if b.sqlite != nil {
		errs = append(errs, b.sqlite.Close())
		b.sqlite = nil
	}
	if b.postgres != nil {
		errs = append(errs, b.postgres.Close())
		b.postgres = nil
	}
	if b.mongo != nil {
		errs = append(errs, b.mongo.Disconnect(context.Background()))
		b.mongo = nil
	}
	return errors.Join(errs...)
}
