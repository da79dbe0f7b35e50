// Package sqlite provides a single-node SQLite store for extraction
// results, used by the CLI and small deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

const memoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS extractions (
	document_id     TEXT PRIMARY KEY,
	document        TEXT    NOT NULL,
	result          TEXT    NOT NULL,
	infection_count INTEGER NOT NULL DEFAULT 0,
	incident_count  INTEGER NOT NULL DEFAULT 0,
	extracted_at    INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extractions_extracted_at ON extractions(extracted_at DESC);
`

// Store keeps extraction results in one SQLite table. The result column
// holds the JSON encoded ExtractionResult.
type Store struct {
	db      *sql.DB
	logger  logging.Logger
	metrics *prometheus.AppMetrics
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records query latency on m.
func WithMetrics(m *prometheus.AppMetrics) Option { return func(s *Store) { s.metrics = m } }

// dsn builds the modernc connection string. File databases run in WAL mode.
func dsn(cfg config.SQLiteConfig) string {
	if cfg.Path == memoryPath {
		return memoryPath
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	if cfg.BusyTimeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens or creates the database at cfg.Path and ensures the schema.
// ":memory:" gives a private in-memory database.
func Open(cfg config.SQLiteConfig, log logging.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "open sqlite database")
	}
	if cfg.Path == memoryPath {
		// every connection would see its own empty database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	s, err := NewWithDB(db, log, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an open database without touching its schema.
func NewWithDB(db *sql.DB, log logging.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "ping sqlite database")
	}
	s := &Store{db: db, logger: log.Named("sqlite"), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, errors.ErrCodeMigrationFailed, "create sqlite schema")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite ping failed")
	}
	return nil
}

// Save upserts doc and result keyed by the document id.
func (s *Store) Save(ctx context.Context, doc *epi.AnnotatedDocument, result *epi.ExtractionResult) (err error) {
	start := time.Now()
	defer func() { s.observe("save", start, err) }()

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode document")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode result")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extractions (
			document_id, document, result, infection_count, incident_count, extracted_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			document        = excluded.document,
			result          = excluded.result,
			infection_count = excluded.infection_count,
			incident_count  = excluded.incident_count,
			extracted_at    = excluded.extracted_at,
			updated_at      = excluded.updated_at`,
		result.DocumentID, string(docJSON), string(resultJSON),
		len(result.Infections), len(result.Incidents),
		result.ExtractedAt.UnixNano(), s.now().UnixNano(),
	)
	if err != nil {
		s.logger.Error("save failed", logging.String("document_id", result.DocumentID), logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save extraction")
	}
	return nil
}

// Get loads the result stored for documentID.
func (s *Store) Get(ctx context.Context, documentID string) (_ *epi.ExtractionResult, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err) }()

	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT result FROM extractions WHERE document_id = ?`, documentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrCodeExtractionNotFound, "extraction not found").WithDetail(documentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query extraction")
	}

	result := &epi.ExtractionResult{}
	if err := json.Unmarshal([]byte(raw), result); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode stored result")
	}
	return result, nil
}

// List returns one page of summaries, newest first, and the total count.
func (s *Store) List(ctx context.Context, page common.Pagination) (_ []epi.ExtractionSummary, _ int64, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, err) }()

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extractions`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count extractions")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, infection_count, incident_count, extracted_at
		FROM extractions
		ORDER BY extracted_at DESC, document_id
		LIMIT ? OFFSET ?`, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list extractions")
	}
	defer rows.Close()

	out := make([]epi.ExtractionSummary, 0, page.PageSize)
	for rows.Next() {
		var (
			sum   epi.ExtractionSummary
			nanos int64
		)
		if err := rows.Scan(&sum.DocumentID, &sum.InfectionCount, &sum.IncidentCount, &nanos); err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan extraction")
		}
		sum.ExtractedAt = time.Unix(0, nanos).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate extractions")
	}
	return out, total, nil
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics != nil {
		prometheus.RecordDBQuery(s.metrics, "sqlite", operation, time.Since(start), err)
	}
}
