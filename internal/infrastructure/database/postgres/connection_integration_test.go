//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/EpiExtract/internal/infrastructure/database/postgres"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/testutil"
)

func TestMigrator_UpDownStatus(t *testing.T) {
	cfg := testutil.StartPostgres(t)

	m, err := postgres.NewMigrator(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	defer m.Close()

	version, dirty, err := m.Status()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "second Up is a no-op")

	version, dirty, err = m.Status()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, m.Down(1))
	version, _, err = m.Status()
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestWithTransaction_Integration(t *testing.T) {
	cfg := testutil.StartPostgres(t)
	ctx := context.Background()

	pool, err := postgres.NewConnectionPool(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	defer postgres.Close(pool)
	require.NoError(t, postgres.HealthCheck(ctx, pool))

	_, err = pool.Exec(ctx, "CREATE TABLE tx_probe (id INT PRIMARY KEY)")
	require.NoError(t, err)

	err = postgres.WithTransaction(ctx, pool, func(outerTx pgx.Tx, outerCtx context.Context) error {
		if _, err := outerTx.Exec(outerCtx, "INSERT INTO tx_probe VALUES (1)"); err != nil {
			return err
		}
		innerErr := postgres.WithTransaction(outerCtx, pool, func(innerTx pgx.Tx, innerCtx context.Context) error {
			if _, err := innerTx.Exec(innerCtx, "INSERT INTO tx_probe VALUES (2)"); err != nil {
				return err
			}
			return fmt.Errorf("inner transaction error")
		})
		assert.Error(t, innerErr)
		return nil
	})
	require.NoError(t, err)

	err = postgres.WithTransaction(ctx, pool, func(tx pgx.Tx, txCtx context.Context) error {
		if _, err := tx.Exec(txCtx, "INSERT INTO tx_probe VALUES (3)"); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	var ids []int
	rows, err := pool.Query(ctx, "SELECT id FROM tx_probe ORDER BY id")
	require.NoError(t, err)
	ids, err = pgx.CollectRows(rows, pgx.RowTo[int])
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids)
}
