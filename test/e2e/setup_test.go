// Package e2e_test drives the HTTP API end to end: the Gin router, the
// extraction service and a SQLite result store, through the Go SDK.
package e2e_test

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/EpiExtract/internal/application/extraction"
	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/database/sqlite"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	httpapi "github.com/turtacn/EpiExtract/internal/interfaces/http"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/handlers"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/middleware"
	"github.com/turtacn/EpiExtract/pkg/client"
)

// testEnv holds the resources shared by every test of the package.
type testEnv struct {
	server       *httptest.Server
	sdkClient    *client.Client
	cleanupFuncs []func()
}

var env *testEnv

func TestMain(m *testing.M) {
	var err error
	env, err = setupTestEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e setup failed: %v\n", err)
		os.Exit(1)
	}
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupTestEnv() (*testEnv, error) {
	e := &testEnv{}

	dir, err := os.MkdirTemp("", "epiextract-e2e")
	if err != nil {
		return nil, err
	}
	e.cleanupFuncs = append(e.cleanupFuncs, func() { os.RemoveAll(dir) })

	logger := logging.NewNopLogger()
	store, err := sqlite.Open(config.SQLiteConfig{
		Path:        filepath.Join(dir, "e2e.db"),
		BusyTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	e.cleanupFuncs = append(e.cleanupFuncs, func() { store.Close() })

	svc := extraction.NewService(extraction.Config{MaxBatchSize: 10}, extraction.WithRepository(store))

	router := httpapi.NewRouter(httpapi.RouterConfig{
		ExtractionHandler: handlers.NewExtractionHandler(svc, nil, logger),
		HealthHandler: handlers.NewHealthHandler("e2e", handlers.CheckerFunc{
			ComponentName: "sqlite",
			Fn:            store.Ping,
		}),
		Logging:     middleware.DefaultLoggingConfig(),
		MaxBodySize: 1 << 20,
		Mode:        gin.TestMode,
		Logger:      logger,
	})
	e.server = httptest.NewServer(router)
	e.cleanupFuncs = append(e.cleanupFuncs, e.server.Close)

	e.sdkClient, err = client.NewClient(e.server.URL, "",
		client.WithRetryMax(0),
		client.WithUserAgent("epiextract-e2e"),
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func cleanup() {
	for i := len(env.cleanupFuncs) - 1; i >= 0; i-- {
		env.cleanupFuncs[i]()
	}
}
