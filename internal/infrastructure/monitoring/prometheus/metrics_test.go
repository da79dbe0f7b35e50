package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAppMetrics(t *testing.T) (*AppMetrics, MetricsCollector) {
	t.Helper()
	c := newTestCollector(t)
	return NewAppMetrics(c), c
}

func TestNewAppMetrics_AllRegistered(t *testing.T) {
	m, _ := newTestAppMetrics(t)
	require.NotNil(t, m)

	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.GRPCRequestsTotal)
	assert.NotNil(t, m.DocumentsProcessed)
	assert.NotNil(t, m.IncidentsFound)
	assert.NotNil(t, m.CacheHitsTotal)
	assert.NotNil(t, m.DeadLetteredTotal)
}

func TestNewAppMetrics_Idempotent(t *testing.T) {
	c := newTestCollector(t)
	assert.NotPanics(t, func() {
		NewAppMetrics(c)
		NewAppMetrics(c)
	})
}

func TestRecordExtraction(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordExtraction(m, "http", 2*time.Millisecond, 3, []string{"caseCount", "caseCount", "deathCount"}, nil)
	RecordExtraction(m, "http", time.Millisecond, 0, nil, errors.New("boom"))

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_documents_processed_total{source="http",status="success"} 1`)
	assert.Contains(t, out, `test_unit_documents_processed_total{source="http",status="failure"} 1`)
	assert.Contains(t, out, `test_unit_infections_found_total{source="http"} 3`)
	assert.Contains(t, out, `test_unit_incidents_found_total{source="http",type="caseCount"} 2`)
	assert.Contains(t, out, `test_unit_incidents_found_total{source="http",type="deathCount"} 1`)
	assert.Contains(t, out, `test_unit_extraction_duration_seconds_count{source="http"} 2`)
}

func TestRecordHTTPAndGRPC(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordHTTPRequest(m, "POST", "/api/v1/extractions", 201, 10*time.Millisecond)
	RecordGRPCRequest(m, "/epiextract.v1.Extraction/Extract", "OK", time.Millisecond)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_http_requests_total{method="POST",path="/api/v1/extractions",status_code="201"} 1`)
	assert.Contains(t, out, `test_unit_grpc_requests_total{code="OK",method="/epiextract.v1.Extraction/Extract"} 1`)
}

func TestRecordCacheDBAndMessages(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordCacheAccess(m, "extraction", true)
	RecordCacheAccess(m, "extraction", false)
	RecordCacheAccess(m, "extraction", false)
	RecordDBQuery(m, "postgres", "save", time.Millisecond, errors.New("down"))
	RecordMessage(m, "epi.document.submitted", time.Millisecond, nil)
	RecordError(m, "kafka", "MSG_003")

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_cache_hits_total{cache="extraction"} 1`)
	assert.Contains(t, out, `test_unit_cache_misses_total{cache="extraction"} 2`)
	assert.Contains(t, out, `test_unit_errors_total{component="postgres",error_code="query_error"} 1`)
	assert.Contains(t, out, `test_unit_errors_total{component="kafka",error_code="MSG_003"} 1`)
	assert.Contains(t, out, `test_unit_messages_consumed_total{status="success",topic="epi.document.submitted"} 1`)
}
