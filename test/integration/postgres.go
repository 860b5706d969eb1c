package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/connection"
	"github.com/smartdevs17/financial-tracker/internal/storage"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

const migrationsTable = "schema_migrations"

// Postgres is a throwaway PostgreSQL server for one test
type Postgres struct {
	Container *tcpostgres.PostgresContainer
}

// requireIntegration skips the test unless INTEGRATION_TEST is set
func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("Skipping integration tests. Set INTEGRATION_TEST=1 to run.")
	}
	utils.InitLogger("info", "text", "stdout", "")
}

// startPostgres starts a PostgreSQL container and terminates it when the
// test ends.
func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("financial_tracker"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})
	return &Postgres{Container: container}
}

// URL returns the connection string as seen from the host. The mapped port
// changes when the container restarts, so ask again after a restart.
func (p *Postgres) URL(t *testing.T) string {
	t.Helper()
	url, err := p.Container.ConnectionString(context.Background(), "sslmode=disable")
	require.NoError(t, err)
	return url
}

// Restart stops and starts the container, keeping its data directory
func (p *Postgres) Restart(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	timeout := 10 * time.Second
	require.NoError(t, p.Container.Stop(ctx, &timeout))
	require.NoError(t, p.Container.Start(ctx))
}

// openStorage waits for the server through the readiness gate and opens a
// storage handle on it.
func openStorage(t *testing.T, url string) storage.Storage {
	t.Helper()

	store, err := storage.NewStorage(config.DatabaseConfig{
		URL:             url,
		MaxConnections:  5,
		MaxIdleTime:     time.Minute,
		MigrationsTable: migrationsTable,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gate := connection.NewReadinessManager(config.HealthCheckConfig{
		Interval: time.Second,
		Timeout:  5 * time.Second,
		Retries:  30,
	}, nil)
	require.NoError(t, gate.WaitFor(context.Background(), connection.NewSQLProbe("db", store.DB())))
	return store
}

// migrate applies the embedded migrations and reports whether anything ran
func migrate(t *testing.T, url string) bool {
	t.Helper()

	migrator, err := storage.NewMigrator(url, migrationsTable)
	require.NoError(t, err)
	defer migrator.Close()

	applied, err := migrator.Up()
	require.NoError(t, err)
	return applied
}
