// Package testutil starts the external services integration tests run
// against. Tests using it carry the integration build tag.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	RustFSAccessKey = "rustfsadmin"
	RustFSSecretKey = "rustfsadmin"

	defaultRustFSImage = "rustfs/rustfs:latest"
	rustFSPort         = "9000/tcp"
)

// RustFSContainer is an S3-compatible object store for mirror tests.
type RustFSContainer struct {
	Container testcontainers.Container
	endpoint  string
}

// NewRustFSContainer starts RustFS and terminates it when the test ends.
// KBRAG_TEST_RUSTFS_IMAGE overrides the image.
func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	t.Helper()

	image := os.Getenv("KBRAG_TEST_RUSTFS_IMAGE")
	if image == "" {
		image = defaultRustFSImage
	}

	container, err := testcontainers.Run(ctx, image,
		testcontainers.WithExposedPorts(rustFSPort),
		testcontainers.WithEnv(map[string]string{
			"RUSTFS_ACCESS_KEY": RustFSAccessKey,
			"RUSTFS_SECRET_KEY": RustFSSecretKey,
		}),
		testcontainers.WithWaitStrategy(wait.ForListeningPort(rustFSPort).WithStartupTimeout(30*time.Second)),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start rustfs container: %v", err)
	}

	endpoint, err := container.PortEndpoint(ctx, rustFSPort, "http")
	if err != nil {
		t.Fatalf("failed to resolve rustfs endpoint: %v", err)
	}

	return &RustFSContainer{Container: container, endpoint: endpoint}
}

// Endpoint returns the http://host:port URL of the S3 API.
func (rc *RustFSContainer) Endpoint() string {
	return rc.endpoint
}
