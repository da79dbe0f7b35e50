package sqlite

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.SQLiteConfig{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func resultFor(id string, at time.Time) (*epi.AnnotatedDocument, *epi.ExtractionResult) {
	count := 3.0
	return &epi.AnnotatedDocument{ID: id, Text: "Three patients were infected."},
		&epi.ExtractionResult{
			DocumentID: id,
			Infections: []epi.Infection{{Start: 0, End: 28, Text: "Three patients were infected", Attributes: []string{"infection", "person"}, Count: &count}},
			Incidents: []epi.Incident{{
				Start: 25, End: 26, Text: "5", Type: "caseCount", Value: 5, Attributes: []string{},
				DateRange: &epi.DateRange{Start: at, End: at.AddDate(0, 0, 1)},
			}},
			ExtractedAt: at,
			DurationMS:  4,
		}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, ":memory:", dsn(config.SQLiteConfig{Path: ":memory:"}))
	assert.Equal(t,
		"file:/var/lib/epi.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%285000%29",
		dsn(config.SQLiteConfig{Path: "/var/lib/epi.db", BusyTimeout: 5 * time.Second}))
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	doc, want := resultFor("doc-1", at)
	require.NoError(t, s.Save(ctx, doc, want))

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_SaveReplaces(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	doc, first := resultFor("doc-1", at)
	require.NoError(t, s.Save(ctx, doc, first))
	first.Incidents = []epi.Incident{}
	require.NoError(t, s.Save(ctx, doc, first))

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, got.Incidents)

	_, total, err := s.List(ctx, common.Pagination{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestStore_GetNotFound(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestStore_List(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		doc, result := resultFor(id, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.Save(ctx, doc, result))
	}

	page, total, err := s.List(ctx, common.Pagination{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, epi.ExtractionSummary{
		DocumentID: "c", InfectionCount: 1, IncidentCount: 1, ExtractedAt: base.Add(2 * time.Hour),
	}, page[0])
	assert.Equal(t, "b", page[1].DocumentID)

	page, _, err = s.List(ctx, common.Pagination{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].DocumentID)
}

func TestStore_FileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epi.db")
	ctx := context.Background()
	doc, result := resultFor("doc-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	s, err := Open(config.SQLiteConfig{Path: path, BusyTimeout: time.Second}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, doc, result))
	require.NoError(t, s.Close())

	s, err = Open(config.SQLiteConfig{Path: path}, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, result, got)
}

// ─────────────────────────────────────────────────────────────────────────────
// Failure paths
// ─────────────────────────────────────────────────────────────────────────────

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectPing()
	s, err := NewWithDB(db, nil)
	require.NoError(t, err)
	return s, mock
}

func TestStore_SaveDatabaseError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO extractions")).WillReturnError(assert.AnError)

	doc, result := resultFor("doc-1", time.Now())
	err := s.Save(context.Background(), doc, result)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetCorruptResult(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT result FROM extractions")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow("{not json"))

	_, err := s.Get(context.Background(), "doc-1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListCountError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM extractions")).WillReturnError(assert.AnError)

	_, _, err := s.List(context.Background(), common.Pagination{Page: 1, PageSize: 10})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
}

func TestStore_ListScanError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM extractions")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document_id, infection_count")).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "infection_count", "incident_count", "extracted_at"}).
			AddRow("doc-1", "many", 0, 0))

	_, _, err := s.List(context.Background(), common.Pagination{Page: 1, PageSize: 10})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
}

func TestNewWithDB_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(assert.AnError)

	_, err = NewWithDB(db, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
}
