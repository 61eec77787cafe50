package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisC sharedContainer

// RedisAddr returns host:port of a shared redis container.
func RedisAddr(t *testing.T) string {
	t.Helper()
	return redisC.get(t, "redis", startRedis)
}

func startRedis(ctx context.Context) (*testcontainers.DockerContainer, string, error) {
	c, err := testcontainers.Run(
		ctx, "redis:latest",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	if err != nil {
		return c, "", err
	}

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		return c, "", err
	}
	return c, endpoint, nil
}
