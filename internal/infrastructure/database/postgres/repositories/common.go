// Package repositories provides the PostgreSQL implementation of the
// extraction result store.
package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/prometheus"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Option configures a repository.
type Option func(*options)

type options struct {
	metrics *prometheus.AppMetrics
}

// WithMetrics records query latency on m.
func WithMetrics(m *prometheus.AppMetrics) Option {
	return func(o *options) { o.metrics = m }
}

func (o options) observe(operation string, start time.Time, err error) {
	if o.metrics != nil {
		prometheus.RecordDBQuery(o.metrics, "postgres", operation, time.Since(start), err)
	}
}
