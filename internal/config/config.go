// Package config loads runtime settings from an optional YAML file and
// TOKENFLOW_* environment variables, and builds the configured backends.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/petrijr/tokenflow/internal/lock"
	"github.com/petrijr/tokenflow/internal/machine"
)

// EnvPrefix is prepended to every environment override, e.g.
// TOKENFLOW_LOCK_BACKEND or TOKENFLOW_MACHINE_DRAIN_DELAY.
const EnvPrefix = "TOKENFLOW"

type LockBackend string

const (
	LockNoop     LockBackend = "noop"
	LockMemory   LockBackend = "memory"
	LockRedis    LockBackend = "redis"
	LockSQLite   LockBackend = "sqlite"
	LockPostgres LockBackend = "postgres"
	LockMongo    LockBackend = "mongo"
)

type BusBackend string

const (
	BusMemory BusBackend = "memory"
	BusRedis  BusBackend = "redis"
)

type StoreBackend string

const (
	StoreNone     StoreBackend = "none"
	StoreMemory   StoreBackend = "memory"
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
)

type Config struct {
	Machine  MachineConfig  `mapstructure:"machine"`
	Lock     LockConfig     `mapstructure:"lock"`
	Bus      BusConfig      `mapstructure:"bus"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Log      LogConfig      `mapstructure:"log"`
}

type MachineConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity"`
	DrainDelay    time.Duration `mapstructure:"drain_delay"`
}

type LockConfig struct {
	Backend LockBackend   `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	// Owner defaults to a random id per process.
	Owner string `mapstructure:"owner"`
	Table string `mapstructure:"table"`
}

type BusConfig struct {
	Backend BusBackend `mapstructure:"backend"`
	Prefix  string     `mapstructure:"prefix"`
}

type StoreConfig struct {
	Backend StoreBackend `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("machine.queue_capacity", machine.DefaultQueueCapacity)
	v.SetDefault("machine.drain_delay", time.Duration(0))

	v.SetDefault("lock.backend", string(LockMemory))
	v.SetDefault("lock.ttl", lock.DefaultTTL)
	v.SetDefault("lock.owner", "")
	v.SetDefault("lock.table", lock.DefaultTable)

	v.SetDefault("bus.backend", string(BusMemory))
	v.SetDefault("bus.prefix", "tokenflow:events:")

	v.SetDefault("store.backend", string(StoreMemory))
	v.SetDefault("store.prefix", "tokenflow:")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("sqlite.path", "tokenflow.db")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "tokenflow")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads path (if non-empty) and applies environment overrides.
// A missing file is an error; an empty path uses defaults plus env only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend names and the settings each backend requires.
func (c Config) Validate() error {
	var errs []error

	if c.Machine.QueueCapacity < 0 {
		errs = append(errs, errors.New("machine.queue_capacity must be >= 0"))
	}
	if c.Machine.DrainDelay < 0 {
		errs = append(errs, errors.New("machine.drain_delay must be >= 0"))
	}

	switch c.Lock.Backend {
	case LockNoop, LockMemory, LockRedis, LockSQLite, LockPostgres, LockMongo:
	default:
		errs = append(errs, fmt.Errorf("lock.backend: unknown backend %q", c.Lock.Backend))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be > 0"))
	}

	switch c.Bus.Backend {
	case BusMemory, BusRedis:
	default:
		errs = append(errs, fmt.Errorf("bus.backend: unknown backend %q", c.Bus.Backend))
	}

	switch c.Store.Backend {
	case StoreNone, StoreMemory, StoreSQLite, StorePostgres, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}

	if (c.Lock.Backend == LockPostgres || c.Store.Backend == StorePostgres) && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required for the postgres backend"))
	}
	if (c.Lock.Backend == LockSQLite || c.Store.Backend == StoreSQLite) && c.SQLite.Path == "" {
		errs = append(errs, errors.New("sqlite.path is required for the sqlite backend"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// MachineDefaults returns machine construction defaults. Callers fill in the
// task id, hooks and collaborators.
func (c Config) MachineDefaults() machine.Config {
	return machine.Config{
		QueueCapacity: c.Machine.QueueCapacity,
		DrainDelay:    c.Machine.DrainDelay,
	}
}

// NewLogger builds a slog.Logger writing to stderr at the configured level.
func (c Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
