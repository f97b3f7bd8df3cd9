package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/database"
	"github.com/davidleathers/betting-risk-engine/internal/testutil/containers"
)

// TestDB is a migrated PostgreSQL database running in a container.
type TestDB struct {
	t    *testing.T
	URL  string
	Pool *pgxpool.Pool
}

// NewTestDB starts a container, applies the embedded migrations and opens a pool.
// It skips under -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pg.PostgresContainer)
	})

	m, err := database.OpenMigrator(pg.ConnectionString)
	require.NoError(t, err)
	require.NoError(t, database.MigrateUp(m))
	srcErr, dbErr := m.Close()
	require.NoError(t, srcErr)
	require.NoError(t, dbErr)

	pool, err := database.NewPool(ctx, &config.DatabaseConfig{
		URL:          pg.ConnectionString,
		MaxOpenConns: 10,
		MaxIdleConns: 1,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return &TestDB{t: t, URL: pg.ConnectionString, Pool: pool}
}

// TruncateTables empties every risk table between subtests.
func (tdb *TestDB) TruncateTables() {
	tdb.t.Helper()
	_, err := tdb.Pool.Exec(context.Background(),
		`TRUNCATE alert_events, compliance_alerts, risk_history, risk_profiles, users CASCADE`)
	require.NoError(tdb.t, err)
}
