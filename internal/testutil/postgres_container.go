package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var postgres sharedContainer

// PostgresDSN returns a pgx DSN for a shared postgres:16 container.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	return postgres.get(t, "postgres", startPostgres)
}

func startPostgres(ctx context.Context) (*testcontainers.DockerContainer, string, error) {
	postgresC, err := testcontainers.Run(
		ctx, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("ready to accept connections"),
				// Verify SQL connectivity through the mapped host:port.
				wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
					return fmt.Sprintf("postgres://umeboshi:umeboshi@%s:%s/umeboshi_test?sslmode=disable", host, port.Port())
				}).WithQuery("SELECT 1"),
			).WithDeadline(2*time.Minute),
		),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "umeboshi",
			"POSTGRES_PASSWORD": "umeboshi",
			"POSTGRES_DB":       "umeboshi_test",
		}),
	)
	if err != nil {
		return postgresC, "", err
	}

	endpoint, err := postgresC.Endpoint(ctx, "")
	if err != nil {
		return postgresC, "", err
	}
	return postgresC, fmt.Sprintf("postgres://umeboshi:umeboshi@%s/umeboshi_test?sslmode=disable", endpoint), nil
}
