// Package testutil starts throwaway backing services for integration tests.
//
// Containers are started once per test binary and shared by every test in
// it. Tests calling these helpers are skipped under -short and when no
// container runtime is reachable.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// startTimeout is generous for CI environments pulling images.
const startTimeout = 3 * time.Minute

// sharedContainer starts a container once and remembers its endpoint or
// the error that prevented it from starting.
type sharedContainer struct {
	once     sync.Once
	endpoint string
	err      error
}

func (c *sharedContainer) get(t *testing.T, name string, start func(ctx context.Context) (*testcontainers.DockerContainer, string, error)) string {
	t.Helper()

	if testing.Short() {
		t.Skipf("skipping %s integration test in -short mode", name)
	}

	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()

		container, endpoint, err := start(ctx)
		if err != nil {
			if container != nil {
				_ = container.Terminate(context.Background()) // best-effort cleanup
			}
			c.err = err
			return
		}
		// Reaped by testcontainers' ryuk sidecar when the test binary exits.
		c.endpoint = endpoint
	})

	if c.err != nil {
		t.Skipf("%s container unavailable: %v", name, c.err)
	}
	return c.endpoint
}
