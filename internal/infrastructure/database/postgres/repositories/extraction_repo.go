package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/turtacn/EpiExtract/internal/infrastructure/database/postgres"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

var (
	infectionColumns = []string{
		"document_id", "ordinal", "start_offset", "end_offset", "text", "attributes", "count", "debug",
	}
	incidentColumns = []string{
		"document_id", "ordinal", "start_offset", "end_offset", "text", "incident_type", "value",
		"attributes", "location", "date_start", "date_end", "species_id", "species_label",
	}
)

const upsertExtractionSQL = `
	INSERT INTO extractions (
		document_id, document, published_at, options,
		infection_count, incident_count, extracted_at, duration_ms
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (document_id) DO UPDATE SET
		document        = EXCLUDED.document,
		published_at    = EXCLUDED.published_at,
		options         = EXCLUDED.options,
		infection_count = EXCLUDED.infection_count,
		incident_count  = EXCLUDED.incident_count,
		extracted_at    = EXCLUDED.extracted_at,
		duration_ms     = EXCLUDED.duration_ms,
		updated_at      = NOW()`

// ExtractionRepository stores documents, infections and incidents in
// PostgreSQL. Saving a document id again replaces the earlier result.
type ExtractionRepository struct {
	db     DB
	logger logging.Logger
	opts   options
}

// NewExtractionRepository constructs a repository over db.
func NewExtractionRepository(db DB, log logging.Logger, opts ...Option) *ExtractionRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	r := &ExtractionRepository{db: db, logger: log.Named("postgres.extractions")}
	for _, o := range opts {
		o(&r.opts)
	}
	return r
}

// Save writes doc and its result in one transaction.
func (r *ExtractionRepository) Save(ctx context.Context, doc *epi.AnnotatedDocument, result *epi.ExtractionResult) (err error) {
	start := time.Now()
	defer func() { r.opts.observe("save", start, err) }()

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode document")
	}
	optsJSON, err := json.Marshal(result.Options)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode options")
	}
	incidents, err := incidentRows(result)
	if err != nil {
		return err
	}

	err = postgres.WithTransaction(ctx, r.db, func(tx pgx.Tx, txCtx context.Context) error {
		batch := &pgx.Batch{}
		batch.Queue(upsertExtractionSQL,
			result.DocumentID, docJSON, doc.PublishedAt, optsJSON,
			len(result.Infections), len(result.Incidents), result.ExtractedAt, result.DurationMS,
		)
		batch.Queue(`DELETE FROM infections WHERE document_id = $1`, result.DocumentID)
		batch.Queue(`DELETE FROM incidents WHERE document_id = $1`, result.DocumentID)
		if err := tx.SendBatch(txCtx, batch).Close(); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to upsert extraction")
		}

		if rows := infectionRows(result); len(rows) > 0 {
			if _, err := tx.CopyFrom(txCtx, pgx.Identifier{"infections"}, infectionColumns, pgx.CopyFromRows(rows)); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to copy infections")
			}
		}
		if len(incidents) > 0 {
			if _, err := tx.CopyFrom(txCtx, pgx.Identifier{"incidents"}, incidentColumns, pgx.CopyFromRows(incidents)); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to copy incidents")
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("save failed", logging.String("document_id", result.DocumentID), logging.Err(err))
		return err
	}
	r.logger.Debug("saved extraction",
		logging.String("document_id", result.DocumentID),
		logging.Int("infections", len(result.Infections)),
		logging.Int("incidents", len(result.Incidents)),
	)
	return nil
}

// Get loads the result stored for documentID.
func (r *ExtractionRepository) Get(ctx context.Context, documentID string) (_ *epi.ExtractionResult, err error) {
	start := time.Now()
	defer func() { r.opts.observe("get", start, err) }()

	result := &epi.ExtractionResult{DocumentID: documentID}
	var optsJSON []byte
	err = r.db.QueryRow(ctx, `
		SELECT options, extracted_at, duration_ms
		FROM extractions WHERE document_id = $1`, documentID,
	).Scan(&optsJSON, &result.ExtractedAt, &result.DurationMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.ErrCodeExtractionNotFound, "extraction not found").WithDetail(documentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query extraction")
	}
	result.ExtractedAt = result.ExtractedAt.UTC()
	if err := json.Unmarshal(optsJSON, &result.Options); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode options")
	}

	if result.Infections, err = r.infections(ctx, documentID); err != nil {
		return nil, err
	}
	if result.Incidents, err = r.incidents(ctx, documentID); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *ExtractionRepository) infections(ctx context.Context, documentID string) ([]epi.Infection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_offset, end_offset, text, attributes, count, debug
		FROM infections WHERE document_id = $1 ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query infections")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (epi.Infection, error) {
		var inf epi.Infection
		err := row.Scan(&inf.Start, &inf.End, &inf.Text, &inf.Attributes, &inf.Count, &inf.Debug)
		if inf.Attributes == nil {
			inf.Attributes = []string{}
		}
		return inf, err
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan infections")
	}
	return out, nil
}

func (r *ExtractionRepository) incidents(ctx context.Context, documentID string) ([]epi.Incident, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_offset, end_offset, text, incident_type, value, attributes,
		       location, date_start, date_end, species_id, species_label
		FROM incidents WHERE document_id = $1 ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query incidents")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (epi.Incident, error) {
		var (
			inc          epi.Incident
			location     []byte
			dateStart    *time.Time
			dateEnd      *time.Time
			speciesID    *string
			speciesLabel *string
		)
		if err := row.Scan(&inc.Start, &inc.End, &inc.Text, &inc.Type, &inc.Value, &inc.Attributes,
			&location, &dateStart, &dateEnd, &speciesID, &speciesLabel); err != nil {
			return inc, err
		}
		return assembleIncident(inc, location, dateStart, dateEnd, speciesID, speciesLabel)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan incidents")
	}
	return out, nil
}

// List returns one page of summaries, newest first, and the total count.
func (r *ExtractionRepository) List(ctx context.Context, page common.Pagination) (_ []epi.ExtractionSummary, _ int64, err error) {
	start := time.Now()
	defer func() { r.opts.observe("list", start, err) }()

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM extractions`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count extractions")
	}

	rows, err := r.db.Query(ctx, `
		SELECT document_id, infection_count, incident_count, extracted_at
		FROM extractions
		ORDER BY extracted_at DESC, document_id
		LIMIT $1 OFFSET $2`, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list extractions")
	}
	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (epi.ExtractionSummary, error) {
		var s epi.ExtractionSummary
		err := row.Scan(&s.DocumentID, &s.InfectionCount, &s.IncidentCount, &s.ExtractedAt)
		s.ExtractedAt = s.ExtractedAt.UTC()
		return s, err
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan extractions")
	}
	return summaries, total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

func infectionRows(result *epi.ExtractionResult) [][]any {
	rows := make([][]any, 0, len(result.Infections))
	for i, inf := range result.Infections {
		attrs := inf.Attributes
		if attrs == nil {
			attrs = []string{}
		}
		rows = append(rows, []any{
			result.DocumentID, i, inf.Start, inf.End, inf.Text, attrs, inf.Count, inf.Debug,
		})
	}
	return rows
}

func incidentRows(result *epi.ExtractionResult) ([][]any, error) {
	rows := make([][]any, 0, len(result.Incidents))
	for i, inc := range result.Incidents {
		var location any
		if inc.Location != nil {
			b, err := json.Marshal(inc.Location)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode incident location")
			}
			location = b
		}
		var dateStart, dateEnd, speciesID, speciesLabel any
		if inc.DateRange != nil {
			dateStart, dateEnd = inc.DateRange.Start, inc.DateRange.End
		}
		if inc.Species != nil {
			speciesID, speciesLabel = inc.Species.ID, inc.Species.Label
		}
		attrs := inc.Attributes
		if attrs == nil {
			attrs = []string{}
		}
		rows = append(rows, []any{
			result.DocumentID, i, inc.Start, inc.End, inc.Text, inc.Type, inc.Value,
			attrs, location, dateStart, dateEnd, speciesID, speciesLabel,
		})
	}
	return rows, nil
}

func assembleIncident(inc epi.Incident, location []byte, dateStart, dateEnd *time.Time, speciesID, speciesLabel *string) (epi.Incident, error) {
	if inc.Attributes == nil {
		inc.Attributes = []string{}
	}
	if len(location) > 0 {
		if err := json.Unmarshal(location, &inc.Location); err != nil {
			return inc, err
		}
	}
	if dateStart != nil && dateEnd != nil {
		inc.DateRange = &epi.DateRange{Start: dateStart.UTC(), End: dateEnd.UTC()}
	}
	if speciesID != nil {
		inc.Species = &epi.EntityRef{ID: *speciesID}
		if speciesLabel != nil {
			inc.Species.Label = *speciesLabel
		}
	}
	return inc, nil
}
