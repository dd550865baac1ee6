// Package testutil starts shared backend containers for integration tests.
//
// Each backend is started at most once per test binary. When Docker is not
// available the calling test is skipped rather than failed.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib" // "pgx" driver for the readiness probe
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type sharedContainer struct {
	once      sync.Once
	container testcontainers.Container
	endpoint  string
	err       error
}

var (
	redisShared    sharedContainer
	postgresShared sharedContainer
	mongoShared    sharedContainer
)

// start runs the container once and returns its host:port endpoint.
func (s *sharedContainer) start(t *testing.T, image string, opts ...testcontainers.ContainerCustomizer) string {
	t.Helper()

	s.once.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		c, err := testcontainers.Run(ctx, image, opts...)
		if err != nil {
			s.err = err
			return
		}
		// Containers outlive the first test that started them; ryuk reaps
		// them when the test binary exits.
		s.container = c

		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background()) // best-effort cleanup
			s.err = err
			return
		}
		s.endpoint = endpoint
	})

	if s.err != nil {
		t.Skipf("skipping: cannot start %s container: %v", image, s.err)
	}
	return s.endpoint
}

// GetRedisAddress returns host:port of a shared Redis container.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return redisShared.start(t, "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
}

// GetPostgresDSN returns a pgx DSN for a shared PostgreSQL container.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	endpoint := postgresShared.start(t, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("ready to accept connections"),
				// Actively verify SQL connectivity using the mapped host:port
				wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
					return fmt.Sprintf("postgres://tokenflow:tokenflow@%s:%s/tokenflow_test?sslmode=disable", host, port.Port())
				}).WithQuery("SELECT 1"),
			).WithDeadline(2*time.Minute),
		),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "tokenflow",
			"POSTGRES_PASSWORD": "tokenflow",
			"POSTGRES_DB":       "tokenflow_test",
		}),
	)
	return fmt.Sprintf("postgres://tokenflow:tokenflow@%s/tokenflow_test?sslmode=disable", endpoint)
}

// GetMongoURI returns a connection URI for a shared MongoDB container.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	endpoint := mongoShared.start(t, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("mongod startup complete"),
		),
	)
	return fmt.Sprintf("mongodb://%s", endpoint)
}
