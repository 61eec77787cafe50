package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var mongoC sharedContainer

// MongoURI returns a connection URI for a shared mongo:7 container.
func MongoURI(t *testing.T) string {
	t.Helper()
	return mongoC.get(t, "mongo", startMongo)
}

func startMongo(ctx context.Context) (*testcontainers.DockerContainer, string, error) {
	c, err := testcontainers.Run(
		ctx, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("mongod startup complete"),
		),
	)
	if err != nil {
		return c, "", err
	}

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		return c, "", err
	}
	return c, fmt.Sprintf("mongodb://%s", endpoint), nil
}
