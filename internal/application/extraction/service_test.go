package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/EpiExtract/internal/intelligence/infection"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

// infectedDoc is "Three patients were infected in the outbreak ." with its
// dependency parse.
func infectedDoc(id string) *epi.AnnotatedDocument {
	return &epi.AnnotatedDocument{
		ID:   id,
		Text: "Three patients were infected in the outbreak .",
		Tokens: []epi.Token{
			{Start: 0, End: 5, Text: "Three", Lemma: "three", POS: "NUM", Dep: "nummod", EntType: "CARDINAL", Head: 1},
			{Start: 6, End: 14, Text: "patients", Lemma: "patient", POS: "NOUN", Dep: "nsubjpass", Head: 3},
			{Start: 15, End: 19, Text: "were", Lemma: "be", POS: "AUX", Dep: "auxpass", Head: 3},
			{Start: 20, End: 28, Text: "infected", Lemma: "infect", POS: "VERB", Dep: "ROOT", Head: 3},
			{Start: 29, End: 31, Text: "in", Lemma: "in", POS: "ADP", Dep: "prep", Head: 3},
			{Start: 32, End: 35, Text: "the", Lemma: "the", POS: "DET", Dep: "det", Head: 6},
			{Start: 36, End: 44, Text: "outbreak", Lemma: "outbreak", POS: "NOUN", Dep: "pobj", Head: 4},
			{Start: 45, End: 46, Text: ".", Lemma: ".", POS: "PUNCT", Dep: "punct", Head: 3},
		},
		Sentences:  []epi.Offsets{{Start: 0, End: 46}},
		NounChunks: []epi.Offsets{{Start: 0, End: 14}, {Start: 32, End: 44}},
		Entities:   []epi.Entity{{Start: 0, End: 5, Label: "CARDINAL"}},
		Numbers:    []epi.NumberSpan{{Start: 0, End: 5, Number: 3}},
	}
}

// casesTableDoc is the table "New Cases | Cases / 5 | 120".
func casesTableDoc(id string) *epi.AnnotatedDocument {
	return &epi.AnnotatedDocument{
		ID:      id,
		Text:    "New Cases | Cases\n5 | 120",
		Numbers: []epi.NumberSpan{{Start: 18, End: 19, Number: 5}, {Start: 22, End: 25, Number: 120}},
		Tables: []epi.TableSpan{{Start: 0, End: 25, Rows: [][]epi.Offsets{
			{{Start: 0, End: 9}, {Start: 12, End: 17}},
			{{Start: 18, End: 19}, {Start: 22, End: 25}},
		}}},
	}
}

// datedTableDoc is the table "Date | New Cases / Jan 1 | 5 / Jan 2 | 8".
func datedTableDoc() *epi.AnnotatedDocument {
	return &epi.AnnotatedDocument{
		ID:      "dated",
		Text:    "Date | New Cases\nJan 1 | 5\nJan 2 | 8",
		Numbers: []epi.NumberSpan{{Start: 25, End: 26, Number: 5}, {Start: 35, End: 36, Number: 8}},
		Dates: []epi.DateSpan{
			{Start: 17, End: 22, DatetimeRange: []time.Time{day(time.January, 1), day(time.January, 2)}},
			{Start: 27, End: 32, DatetimeRange: []time.Time{day(time.January, 2), day(time.January, 3)}},
		},
		Tables: []epi.TableSpan{{Start: 0, End: 36, Rows: [][]epi.Offsets{
			{{Start: 0, End: 4}, {Start: 7, End: 16}},
			{{Start: 17, End: 22}, {Start: 25, End: 26}},
			{{Start: 27, End: 32}, {Start: 35, End: 36}},
		}}},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Collaborator doubles
// ─────────────────────────────────────────────────────────────────────────────

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Save(ctx context.Context, doc *epi.AnnotatedDocument, result *epi.ExtractionResult) error {
	return m.Called(ctx, doc, result).Error(0)
}

func (m *mockRepository) Get(ctx context.Context, id string) (*epi.ExtractionResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*epi.ExtractionResult), args.Error(1)
}

func (m *mockRepository) List(ctx context.Context, page common.Pagination) ([]epi.ExtractionSummary, int64, error) {
	args := m.Called(ctx, page)
	return args.Get(0).([]epi.ExtractionSummary), args.Get(1).(int64), args.Error(2)
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCache() *memoryCache { return &memoryCache{items: map[string][]byte{}} }

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.items[key]
	if !ok {
		return errors.New(errors.ErrCodeCacheMiss, "cache miss")
	}
	return json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = data
	return nil
}

type failingSinks struct {
	calls int
}

func (f *failingSinks) PutDocument(context.Context, *epi.AnnotatedDocument) error {
	f.calls++
	return errors.New(errors.ErrCodeObjectStorage, "bucket gone")
}

func (f *failingSinks) PutResult(context.Context, *epi.ExtractionResult) error {
	f.calls++
	return errors.New(errors.ErrCodeObjectStorage, "bucket gone")
}

func (f *failingSinks) IndexResult(context.Context, *epi.ExtractionResult) error {
	f.calls++
	return errors.New(errors.ErrCodeSearchIndex, "cluster red")
}

func (f *failingSinks) PublishExtractionCompleted(context.Context, *epi.ExtractionResult) error {
	f.calls++
	return errors.New(errors.ErrCodeMessagePublish, "broker down")
}

// ─────────────────────────────────────────────────────────────────────────────
// Extract
// ─────────────────────────────────────────────────────────────────────────────

func TestExtract_Infections(t *testing.T) {
	t.Parallel()
	svc := NewService(Config{}, WithLogger(logging.NewNopLogger()))

	res, err := svc.Extract(context.Background(), infectedDoc("doc-1"))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.DocumentID)
	require.Len(t, res.Infections, 1)

	inf := res.Infections[0]
	assert.Equal(t, "Three patients were infected", inf.Text)
	assert.Equal(t, 0, inf.Start)
	assert.Equal(t, 28, inf.End)
	require.NotNil(t, inf.Count)
	assert.Equal(t, 3.0, *inf.Count)
	assert.Contains(t, inf.Attributes, "infection")
	assert.Contains(t, inf.Attributes, "person")
	assert.IsIncreasing(t, inf.Attributes)
	assert.Empty(t, res.Incidents)
}

func TestExtract_CompatibilityMode(t *testing.T) {
	t.Parallel()
	svc := NewService(Config{Options: epi.Options{CompatibilityMode: true}})

	res, err := svc.Extract(context.Background(), infectedDoc("doc-1"))
	require.NoError(t, err)
	require.Len(t, res.Infections, 1)
	assert.Contains(t, res.Infections[0].Attributes, "case")
	assert.True(t, res.Options.CompatibilityMode)
}

func TestExtract_TableIncidents(t *testing.T) {
	t.Parallel()
	svc := NewService(Config{})

	res, err := svc.Extract(context.Background(), casesTableDoc("table"))
	require.NoError(t, err)
	require.Len(t, res.Incidents, 2)
	assert.Equal(t, "caseCount", res.Incidents[0].Type)
	assert.Equal(t, 5.0, res.Incidents[0].Value)
	assert.Equal(t, "5", res.Incidents[0].Text)
	assert.Equal(t, "cumulativeCaseCount", res.Incidents[1].Type)
	assert.Equal(t, 120.0, res.Incidents[1].Value)
	assert.NotNil(t, res.Incidents[1].Attributes)
}

func TestExtract_AssignsID(t *testing.T) {
	t.Parallel()
	svc := NewService(Config{})

	res, err := svc.Extract(context.Background(), infectedDoc(""))
	require.NoError(t, err)
	_, err = uuid.Parse(res.DocumentID)
	assert.NoError(t, err)
}

func TestExtract_InvalidDocument(t *testing.T) {
	t.Parallel()
	svc := NewService(Config{})

	_, err := svc.Extract(context.Background(), &epi.AnnotatedDocument{ID: "x"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDocumentEmpty))

	_, err = svc.Extract(context.Background(), nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDocumentEmpty))

	bad := infectedDoc("x")
	bad.Tokens[0].Head = 42
	_, err = svc.Extract(context.Background(), bad)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidToken))
}

func TestExtract_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewService(Config{}).Extract(ctx, infectedDoc("x"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeTimeout))
}

func TestExtract_SavesResult(t *testing.T) {
	t.Parallel()
	repo := new(mockRepository)
	repo.On("Save", mock.Anything, mock.Anything, mock.MatchedBy(func(r *epi.ExtractionResult) bool {
		return r.DocumentID == "doc-1" && len(r.Infections) == 1
	})).Return(nil).Once()

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(Config{}, WithRepository(repo), WithClock(func() time.Time { return fixed }))

	res, err := svc.Extract(context.Background(), infectedDoc("doc-1"))
	require.NoError(t, err)
	assert.Equal(t, fixed, res.ExtractedAt)
	repo.AssertExpectations(t)
}

func TestExtract_SaveFailureIsReturned(t *testing.T) {
	t.Parallel()
	repo := new(mockRepository)
	repo.On("Save", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New(errors.ErrCodeDatabaseError, "down"))

	_, err := NewService(Config{}, WithRepository(repo)).Extract(context.Background(), infectedDoc("doc-1"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
}

func TestExtract_SinkFailuresAreNotFatal(t *testing.T) {
	t.Parallel()
	sinks := &failingSinks{}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "t"}, nil)
	require.NoError(t, err)
	metrics := prometheus.NewAppMetrics(collector)

	svc := NewService(Config{},
		WithArchive(sinks), WithIndexer(sinks), WithPublisher(sinks), WithMetrics(metrics))

	_, err = svc.Extract(ContextWithSource(context.Background(), "test"), infectedDoc("doc-1"))
	require.NoError(t, err)
	assert.Equal(t, 4, sinks.calls)

	w := httptest.NewRecorder()
	collector.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `t_sink_failures_total{sink="archive"} 2`)
	assert.Contains(t, body, `t_sink_failures_total{sink="publisher"} 1`)
	assert.Contains(t, body, `t_documents_processed_total{source="test",status="success"} 1`)
	assert.Contains(t, body, `t_infections_found_total{source="test"} 1`)
}

func TestExtract_Cache(t *testing.T) {
	t.Parallel()
	cache := newMemoryCache()
	repo := new(mockRepository)
	repo.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewService(Config{}, WithCache(cache), WithRepository(repo))
	ctx := context.Background()

	first, err := svc.Extract(ctx, infectedDoc("doc-1"))
	require.NoError(t, err)
	assert.Len(t, cache.items, 1)

	again, err := svc.Extract(ctx, infectedDoc("doc-1"))
	require.NoError(t, err)
	assert.Equal(t, first.Infections, again.Infections)
	repo.AssertNumberOfCalls(t, "Save", 1)

	renamed, err := svc.Extract(ctx, infectedDoc("doc-2"))
	require.NoError(t, err)
	assert.Equal(t, "doc-2", renamed.DocumentID)
	assert.Equal(t, first.Infections, renamed.Infections)
	repo.AssertNumberOfCalls(t, "Save", 2)
	assert.Len(t, cache.items, 1)
}

func TestExtract_CacheKeyIncludesOptions(t *testing.T) {
	t.Parallel()
	a := &serviceImpl{cfg: Config{}}
	b := &serviceImpl{cfg: Config{Options: epi.Options{StrictOnly: true}}}

	ka, err := a.cacheKey(infectedDoc("1"))
	require.NoError(t, err)
	kb, err := b.cacheKey(infectedDoc("1"))
	require.NoError(t, err)
	kc, err := a.cacheKey(infectedDoc("2"))
	require.NoError(t, err)

	assert.NotEqual(t, ka, kb)
	assert.Equal(t, ka, kc)
}

func TestExtract_CacheKeyIncludesLexicon(t *testing.T) {
	t.Parallel()
	custom := infection.DefaultLexicon()
	custom["NOUN"][infection.CategoryInfection]["outbreak"] = true

	base := &serviceImpl{cfg: Config{}}
	a := &serviceImpl{cfg: Config{Lexicon: custom}}
	b := &serviceImpl{cfg: Config{Lexicon: infection.DefaultLexicon()}}
	again := &serviceImpl{cfg: Config{Lexicon: custom}}

	kBase, err := base.cacheKey(infectedDoc("1"))
	require.NoError(t, err)
	ka, err := a.cacheKey(infectedDoc("1"))
	require.NoError(t, err)
	kb, err := b.cacheKey(infectedDoc("1"))
	require.NoError(t, err)
	kAgain, err := again.cacheKey(infectedDoc("1"))
	require.NoError(t, err)

	assert.NotEqual(t, kBase, ka)
	assert.NotEqual(t, ka, kb)
	assert.Equal(t, ka, kAgain)
}

// ─────────────────────────────────────────────────────────────────────────────
// Batch, resolution and queries
// ─────────────────────────────────────────────────────────────────────────────

func TestExtractBatch(t *testing.T) {
	t.Parallel()
	svc := NewService(Config{Concurrency: 2})

	resp, err := svc.ExtractBatch(context.Background(), &common.BatchRequest[*epi.AnnotatedDocument]{
		Items: []*epi.AnnotatedDocument{
			infectedDoc("a"),
			{ID: "empty"},
			casesTableDoc("b"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalProcessed)
	require.Len(t, resp.Succeeded, 2)
	assert.Equal(t, "a", resp.Succeeded[0].DocumentID)
	assert.Equal(t, "b", resp.Succeeded[1].DocumentID)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, 1, resp.Failed[0].Index)
	assert.Equal(t, string(errors.ErrCodeDocumentEmpty), resp.Failed[0].Error.Code)
}

func TestExtractBatch_Limits(t *testing.T) {
	t.Parallel()
	svc := NewService(Config{MaxBatchSize: 1})

	_, err := svc.ExtractBatch(context.Background(), &common.BatchRequest[*epi.AnnotatedDocument]{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = svc.ExtractBatch(context.Background(), &common.BatchRequest[*epi.AnnotatedDocument]{
		Items: []*epi.AnnotatedDocument{infectedDoc("a"), infectedDoc("b")},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestExtractBatch_StopOnError(t *testing.T) {
	t.Parallel()
	svc := NewService(Config{Concurrency: 1})

	resp, err := svc.ExtractBatch(context.Background(), &common.BatchRequest[*epi.AnnotatedDocument]{
		Items:       []*epi.AnnotatedDocument{{ID: "empty"}, infectedDoc("a"), infectedDoc("b")},
		StopOnError: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Failed, 1)
	assert.Empty(t, resp.Succeeded)
	assert.Equal(t, 1, resp.TotalProcessed)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	got, err := NewService(Config{}).Resolve(context.Background(), datedTableDoc())
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0].Cases)
	assert.Equal(t, 5.0, *got[0].Cases)
	assert.Equal(t, "2023-12-31T00:00:00.000000+0000", got[0].DateRange.Start)
	assert.Equal(t, "2024-01-01T00:00:00.000000+0000", got[0].DateRange.End)
	assert.False(t, got[0].DateRange.Cumulative)

	require.NotNil(t, got[1].Cases)
	assert.Equal(t, 8.0, *got[1].Cases)
	assert.Nil(t, got[1].Deaths)
}

func TestGet(t *testing.T) {
	t.Parallel()
	_, err := NewService(Config{}).Get(context.Background(), "doc-1")
	assert.True(t, errors.IsNotFound(err))

	_, err = NewService(Config{}).Get(context.Background(), "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	repo := new(mockRepository)
	want := &epi.ExtractionResult{DocumentID: "doc-1"}
	repo.On("Get", mock.Anything, "doc-1").Return(want, nil)
	got, err := NewService(Config{}, WithRepository(repo)).Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestList_NormalizesPagination(t *testing.T) {
	t.Parallel()
	repo := new(mockRepository)
	repo.On("List", mock.Anything, common.Pagination{Page: 1, PageSize: common.DefaultPageSize}).
		Return([]epi.ExtractionSummary{{DocumentID: "a"}}, int64(1), nil)
	svc := NewService(Config{}, WithRepository(repo))

	items, total, err := svc.List(context.Background(), common.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, items, 1)

	_, _, err = svc.List(context.Background(), common.Pagination{Page: 1, PageSize: common.MaxPageSize + 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}
