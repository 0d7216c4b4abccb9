//go:build integration

package integration

import (
	"context"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/alert-relay/internal/app"
	"github.com/bissquit/alert-relay/internal/config"
	"github.com/bissquit/alert-relay/internal/testutil"
)

const (
	testJWTSecret     = "test-secret-key"
	testBounceService = "mail-gateway"
)

var (
	testServer *httptest.Server
	testDB     *pgxpool.Pool
	testConfig *config.Config
)

// newTestClient returns a client authenticated as userID.
func newTestClient(t *testing.T, userID string) *testutil.Client {
	t.Helper()
	return testutil.NewClient(testServer.URL).As(t, testJWTSecret, userID)
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	redisContainer, err := testutil.NewRedisContainer(ctx)
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			log.Printf("terminate redis: %v", err)
		}
	}()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Log = config.LogConfig{Level: "error", Format: "text"}
	cfg.Database.URL = pgContainer.ConnectionString
	cfg.Database.MaxOpenConns = 5
	cfg.Redis.Addr = redisContainer.Addr
	cfg.JWT.SecretKey = testJWTSecret
	cfg.JWT.ServiceSubjects = []string{testBounceService}
	// Alert consumption is exercised by unit tests against sarama mocks.
	cfg.Kafka.Enabled = false
	cfg.Providers.Email.Enabled = false
	testConfig = cfg

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}

	testServer = httptest.NewServer(application.Router())

	code := m.Run()

	testServer.Close()
	testDB.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}

	os.Exit(code)
}
