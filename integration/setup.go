// Package integration runs end to end checks against whatever store the
// environment configures (HOOKCRON_STORE, HOOKCRON_STORE_DSN). The tests are
// skipped unless HOOKCRON_INTEGRATION_TESTS=true.
package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	hookcron "github.com/hookcron/hookcron-go"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/config"
)

var (
	sharedLib   *hookcron.Hookcron
	libMutex    sync.Mutex
	libInitErr  error
	libInitDone bool
)

func initializeLibrary() (*hookcron.Hookcron, error) {
	libMutex.Lock()
	defer libMutex.Unlock()

	if libInitDone {
		return sharedLib, libInitErr
	}
	libInitDone = true

	cfg, err := config.New()
	if err != nil {
		libInitErr = fmt.Errorf("failed to create config: %w", err)
		return nil, libInitErr
	}

	sharedLib, libInitErr = hookcron.NewWithLogger(context.Background(), cfg, logger.NewNop())
	return sharedLib, libInitErr
}

type TestClient struct {
	Lib    *hookcron.Hookcron
	Prefix string
}

func Setup(t *testing.T) *TestClient {
	if os.Getenv("HOOKCRON_INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test. Set HOOKCRON_INTEGRATION_TESTS=true to run")
	}

	lib, err := initializeLibrary()
	if err != nil {
		t.Fatalf("Failed to initialize hookcron: %v", err)
	}

	prefix := os.Getenv("HOOKCRON_TEST_PREFIX")
	if prefix == "" {
		prefix = "it"
	}
	return &TestClient{Lib: lib, Prefix: prefix}
}

// JobName returns a unique job name and deletes the job when the test ends.
func (c *TestClient) JobName(t *testing.T) string {
	name := fmt.Sprintf("%s-%s", c.Prefix, uuid.Must(uuid.NewV4()))
	t.Cleanup(func() {
		_ = c.Lib.Jobs().Delete(context.Background(), name)
	})
	return name
}
