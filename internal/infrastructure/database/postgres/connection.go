// Package postgres manages the PostgreSQL connection pool, transactions and
// schema migrations of the extraction store.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

const defaultConnectTimeout = 5 * time.Second

// NewConnectionPool opens a pgx pool for cfg and verifies it with a ping.
func NewConnectionPool(cfg config.DatabaseConfig, log logging.Logger) (*pgxpool.Pool, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	poolCfg, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "invalid database configuration")
	}
	configurePool(poolCfg, cfg)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "database connection failed")
	}

	log.Info("connected to PostgreSQL",
		logging.String("host", cfg.Host),
		logging.Int("port", cfg.Port),
		logging.String("database", cfg.DBName),
		logging.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// buildConnString renders cfg as a postgres:// URL.
func buildConnString(cfg config.DatabaseConfig) string {
	return connURL("postgres", cfg)
}

func connURL(scheme string, cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.DBName,
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u.RawQuery = "sslmode=" + url.QueryEscape(sslMode)
	return u.String()
}

// configurePool copies the non-zero pool settings of cfg.
func configurePool(poolCfg *pgxpool.Config, cfg config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
}

// HealthCheck pings the pool.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	if err := pool.Ping(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "database health check failed")
	}
	return nil
}

// Close releases every pooled connection.
func Close(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Transactions
// ─────────────────────────────────────────────────────────────────────────────

// TxBeginner starts transactions. *pgxpool.Pool and pgx.Tx satisfy it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// TxFromContext returns the transaction WithTransaction stored in ctx.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// WithTransaction runs fn in a transaction that commits when fn returns nil
// and rolls back otherwise. Called with a ctx that already carries a
// transaction, it nests through a savepoint.
func WithTransaction(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx, txCtx context.Context) error) (err error) {
	var beginner TxBeginner = db
	if outer, ok := TxFromContext(ctx); ok {
		beginner = outer
	}
	tx, err := beginner.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx, context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Wrap(rbErr, errors.ErrCodeDatabaseError, "rollback failed").WithDetail(err.Error())
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "commit transaction")
	}
	return nil
}
