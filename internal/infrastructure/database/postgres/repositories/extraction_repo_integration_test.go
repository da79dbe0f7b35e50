//go:build integration

package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/EpiExtract/internal/infrastructure/database/postgres"
	"github.com/turtacn/EpiExtract/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/testutil"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

func startRepository(t *testing.T) (*repositories.ExtractionRepository, *pgxpool.Pool) {
	t.Helper()
	cfg := testutil.StartPostgres(t)

	m, err := postgres.NewMigrator(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	pool, err := postgres.NewConnectionPool(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return repositories.NewExtractionRepository(pool, logging.NewNopLogger()), pool
}

func storedResult(id string, at time.Time) (*epi.AnnotatedDocument, *epi.ExtractionResult) {
	count := 3.0
	doc := &epi.AnnotatedDocument{ID: id, Text: "Three patients were infected."}
	result := &epi.ExtractionResult{
		DocumentID: id,
		Options:    epi.Options{Debug: true},
		Infections: []epi.Infection{{
			Start: 0, End: 28, Text: "Three patients were infected",
			Attributes: []string{"infection", "person"}, Count: &count, Debug: []string{"strict"},
		}},
		Incidents: []epi.Incident{{
			Start: 25, End: 26, Text: "5", Type: "caseCount", Value: 5,
			Attributes: []string{},
			Location:   map[string]interface{}{"name": "London"},
			DateRange:  &epi.DateRange{Start: at, End: at.AddDate(0, 0, 1)},
			Species:    &epi.EntityRef{ID: "tax:9606", Label: "Homo sapiens"},
		}},
		ExtractedAt: at,
		DurationMS:  7,
	}
	return doc, result
}

func TestExtractionRepository_SaveAndGet(t *testing.T) {
	repo, _ := startRepository(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	doc, want := storedResult("doc-1", at)
	require.NoError(t, repo.Save(ctx, doc, want))

	got, err := repo.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExtractionRepository_SaveReplaces(t *testing.T) {
	repo, pool := startRepository(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	doc, first := storedResult("doc-1", at)
	require.NoError(t, repo.Save(ctx, doc, first))

	second := &epi.ExtractionResult{
		DocumentID:  "doc-1",
		Infections:  []epi.Infection{},
		Incidents:   []epi.Incident{},
		ExtractedAt: at.Add(time.Hour),
	}
	require.NoError(t, repo.Save(ctx, doc, second))

	got, err := repo.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, got.Infections)
	assert.Empty(t, got.Incidents)

	var incidents int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM incidents").Scan(&incidents))
	assert.Zero(t, incidents)
}

func TestExtractionRepository_GetNotFound(t *testing.T) {
	repo, _ := startRepository(t)
	_, err := repo.Get(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestExtractionRepository_List(t *testing.T) {
	repo, _ := startRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		doc, result := storedResult(id, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repo.Save(ctx, doc, result))
	}

	page, total, err := repo.List(ctx, common.Pagination{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].DocumentID)
	assert.Equal(t, "b", page[1].DocumentID)
	assert.Equal(t, 1, page[0].InfectionCount)
	assert.Equal(t, 1, page[0].IncidentCount)

	page, _, err = repo.List(ctx, common.Pagination{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].DocumentID)
}
