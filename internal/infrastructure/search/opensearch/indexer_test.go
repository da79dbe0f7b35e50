package opensearch

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type fakeCluster struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(w http.ResponseWriter, r *http.Request, body string)
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(raw)})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.handle != nil {
		f.handle(w, r, string(raw))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{}`))
}

func (f *fakeCluster) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Method+" "+r.Path)
	}
	return out
}

func newTestIndexer(t *testing.T, cluster *fakeCluster, batch int) *Indexer {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	c, err := newClient(config.OpenSearchConfig{Addresses: []string{srv.URL}}, nil)
	require.NoError(t, err)
	return NewIndexer(c, IndexerConfig{Index: "epi-test", BulkBatchSize: batch}, nil)
}

func sampleResult() *epi.ExtractionResult {
	count := 12.0
	return &epi.ExtractionResult{
		DocumentID: "doc-1",
		Infections: []epi.Infection{
			{Start: 0, End: 12, Text: "12 new cases", Attributes: []string{"infection"}, Count: &count},
		},
		Incidents: []epi.Incident{
			{
				Start: 0, End: 12, Text: "12 new cases", Type: "caseCount", Value: 12,
				Attributes: []string{"incremental"},
				Location:   map[string]interface{}{"geonameid": "2988507", "name": "Paris"},
				DateRange: &epi.DateRange{
					Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
					End:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
				},
				Species: &epi.EntityRef{ID: "tax:9606", Label: "Homo sapiens"},
			},
		},
		ExtractedAt: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
}

func TestSearchDocuments_Flatten(t *testing.T) {
	docs := SearchDocuments(sampleResult())
	require.Len(t, docs, 2)

	assert.Equal(t, "doc-1:infection:0", docs[0].ID())
	assert.Equal(t, KindInfection, docs[0].Kind)
	require.NotNil(t, docs[0].Count)
	assert.Equal(t, 12.0, *docs[0].Count)

	inc := docs[1]
	assert.Equal(t, "doc-1:incident:0", inc.ID())
	assert.Equal(t, "caseCount", inc.IncidentType)
	assert.Equal(t, "2988507", inc.GeonameID)
	assert.Equal(t, "Paris", inc.LocationName)
	assert.Equal(t, "tax:9606", inc.SpeciesID)
	require.NotNil(t, inc.DateStart)
	assert.Equal(t, 2024, inc.DateStart.Year())
}

func TestSearchDocuments_NumericGeonameID(t *testing.T) {
	r := sampleResult()
	r.Incidents[0].Location = map[string]interface{}{"geonameid": float64(2988507)}
	r.Incidents[0].Attributes = nil
	docs := SearchDocuments(r)
	assert.Equal(t, "2988507", docs[1].GeonameID)
	assert.NotNil(t, docs[1].Attributes)
}

func TestIndexer_IndexResult_DeletesThenBulkIndexes(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		if strings.HasSuffix(r.URL.Path, "/_bulk") {
			_, _ = w.Write([]byte(`{"errors":false,"items":[{"index":{"_id":"a","status":201}},{"index":{"_id":"b","status":201}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"deleted":0}`))
	}
	idx := newTestIndexer(t, cluster, 100)

	require.NoError(t, idx.IndexResult(context.Background(), sampleResult()))

	paths := cluster.paths()
	require.Len(t, paths, 2)
	assert.Equal(t, "POST /epi-test/_delete_by_query", paths[0])
	assert.Equal(t, "POST /_bulk", paths[1])
	assert.Contains(t, cluster.requests[0].Query, "conflicts=proceed")
	assert.Contains(t, cluster.requests[0].Body, `"document_id":"doc-1"`)

	scanner := bufio.NewScanner(strings.NewReader(cluster.requests[1].Body))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 4)
	var action bulkAction
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &action))
	assert.Equal(t, "epi-test", action.Index.Index)
	assert.Equal(t, "doc-1:incident:0", action.Index.ID)
}

func TestIndexer_IndexResult_EmptyResultOnlyDeletes(t *testing.T) {
	cluster := &fakeCluster{}
	idx := newTestIndexer(t, cluster, 100)

	require.NoError(t, idx.IndexResult(context.Background(), &epi.ExtractionResult{DocumentID: "empty"}))
	assert.Equal(t, []string{"POST /epi-test/_delete_by_query"}, cluster.paths())
}

func TestIndexer_IndexResult_ItemFailure(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		if strings.HasSuffix(r.URL.Path, "/_bulk") {
			_, _ = w.Write([]byte(`{"errors":true,"items":[` +
				`{"index":{"_id":"doc-1:infection:0","status":201}},` +
				`{"index":{"_id":"doc-1:incident:0","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad value"}}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}
	idx := newTestIndexer(t, cluster, 100)

	err := idx.IndexResult(context.Background(), sampleResult())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSearchIndex))
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestIndexer_BulkIndex_Batches(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		n := strings.Count(body, "\n") / 2
		items := make([]string, n)
		for i := range items {
			items[i] = `{"index":{"status":201}}`
		}
		_, _ = w.Write([]byte(`{"errors":false,"items":[` + strings.Join(items, ",") + `]}`))
	}
	idx := newTestIndexer(t, cluster, 2)

	docs := make([]SearchDocument, 5)
	for i := range docs {
		docs[i] = SearchDocument{DocumentID: "d", Kind: KindInfection, Ordinal: i}
	}
	res, err := idx.BulkIndex(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Len(t, cluster.paths(), 3)
}

func TestIndexer_EnsureIndex(t *testing.T) {
	t.Run("creates when missing", func(t *testing.T) {
		cluster := &fakeCluster{}
		cluster.handle = func(w http.ResponseWriter, r *http.Request, body string) {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		}
		idx := newTestIndexer(t, cluster, 10)

		require.NoError(t, idx.EnsureIndex(context.Background()))
		assert.Equal(t, []string{"HEAD /epi-test", "PUT /epi-test"}, cluster.paths())
		assert.Contains(t, cluster.requests[1].Body, `"dynamic":"strict"`)
	})

	t.Run("skips when present", func(t *testing.T) {
		cluster := &fakeCluster{}
		idx := newTestIndexer(t, cluster, 10)

		require.NoError(t, idx.EnsureIndex(context.Background()))
		assert.Equal(t, []string{"HEAD /epi-test"}, cluster.paths())
	})

	t.Run("reports create error", func(t *testing.T) {
		cluster := &fakeCluster{}
		cluster.handle = func(w http.ResponseWriter, r *http.Request, body string) {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"resource_already_exists_exception","reason":"index exists"}}`))
		}
		idx := newTestIndexer(t, cluster, 10)

		err := idx.EnsureIndex(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resource_already_exists_exception")
	})
}

func TestIndexer_SearchIncidents(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":7},"hits":[` +
			`{"_source":{"document_id":"doc-1","kind":"incident","ordinal":0,"incident_type":"deathCount","value":3}}]}}`))
	}
	idx := newTestIndexer(t, cluster, 10)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hits, err := idx.SearchIncidents(context.Background(), IncidentQuery{
		IncidentType: "deathCount",
		GeonameID:    "2988507",
		From:         &from,
		Pagination:   common.Pagination{Page: 2, PageSize: 5},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 7, hits.Total)
	require.Len(t, hits.Hits, 1)
	assert.Equal(t, "deathCount", hits.Hits[0].IncidentType)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(cluster.requests[0].Body), &sent))
	assert.EqualValues(t, 5, sent["from"])
	assert.EqualValues(t, 5, sent["size"])
	assert.Contains(t, cluster.requests[0].Body, `"incident_type":"deathCount"`)
	assert.Contains(t, cluster.requests[0].Body, `"date_end":{"gt":"2024-01-01T00:00:00Z"}`)
}

func TestIncidentQuery_MatchAll(t *testing.T) {
	q := IncidentQuery{}.build()
	_, ok := q["match_all"]
	assert.True(t, ok)
}

func TestClient_Ping(t *testing.T) {
	cluster := &fakeCluster{}
	srv := httptest.NewServer(cluster)
	defer srv.Close()

	c, err := newClient(config.OpenSearchConfig{Addresses: []string{srv.URL}}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))
	assert.True(t, c.IsHealthy())
	assert.NoError(t, c.Close())
}

func TestNewClient_RequiresAddresses(t *testing.T) {
	_, err := NewClient(config.OpenSearchConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
