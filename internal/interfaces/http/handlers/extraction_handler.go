package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/EpiExtract/internal/application/extraction"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/infrastructure/search/opensearch"
	"github.com/turtacn/EpiExtract/internal/intelligence/preannotated"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// SourceHTTP labels extractions requested over HTTP.
const SourceHTTP = "http"

// IncidentSearcher queries the incident index.
type IncidentSearcher interface {
	SearchIncidents(ctx context.Context, q opensearch.IncidentQuery) (*opensearch.IncidentHits, error)
}

// ExtractionHandler serves the /api/v1/extractions resources.
type ExtractionHandler struct {
	service  extraction.Service
	searcher IncidentSearcher
	logger   logging.Logger
}

// NewExtractionHandler creates an ExtractionHandler. searcher may be nil,
// in which case incident search answers 501.
func NewExtractionHandler(service extraction.Service, searcher IncidentSearcher, logger logging.Logger) *ExtractionHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ExtractionHandler{service: service, searcher: searcher, logger: logger.Named("extraction_handler")}
}

// RegisterRoutes mounts the handler on rg.
func (h *ExtractionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	ex := rg.Group("/extractions")
	ex.POST("", h.Extract)
	ex.POST("/batch", h.ExtractBatch)
	ex.POST("/resolve", h.Resolve)
	ex.GET("", h.List)
	ex.GET("/:id", h.Get)

	rg.GET("/incidents", h.SearchIncidents)
}

func (h *ExtractionHandler) ctx(c *gin.Context) context.Context {
	return extraction.ContextWithSource(c.Request.Context(), SourceHTTP)
}

// decodeDocument reads a single document body as JSON or YAML.
func (h *ExtractionHandler) decodeDocument(c *gin.Context) (*epi.AnnotatedDocument, error) {
	body, err := readBody(c)
	if err != nil {
		return nil, err
	}
	return preannotated.Decode(body, bodyFormat(c, body))
}

// Extract handles POST /api/v1/extractions.
func (h *ExtractionHandler) Extract(c *gin.Context) {
	doc, err := h.decodeDocument(c)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := h.service.Extract(h.ctx(c), doc)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// ExtractBatch handles POST /api/v1/extractions/batch. Per-document
// failures are reported in the body; the status is 200 unless the batch
// itself is rejected.
func (h *ExtractionHandler) ExtractBatch(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req common.BatchRequest[*epi.AnnotatedDocument]
	if err := preannotated.Unmarshal(body, bodyFormat(c, body), &req); err != nil {
		respondError(c, err)
		return
	}
	resp, err := h.service.ExtractBatch(h.ctx(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.logger.WithContext(c.Request.Context()).Debug("batch extracted",
		logging.Int("items", len(req.Items)),
		logging.Int("succeeded", len(resp.Succeeded)),
		logging.Int("failed", len(resp.Failed)),
	)
	respond(c, http.StatusOK, resp)
}

// Resolve handles POST /api/v1/extractions/resolve.
func (h *ExtractionHandler) Resolve(c *gin.Context) {
	doc, err := h.decodeDocument(c)
	if err != nil {
		respondError(c, err)
		return
	}
	incidents, err := h.service.Resolve(h.ctx(c), doc)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, incidents)
}

// Get handles GET /api/v1/extractions/:id.
func (h *ExtractionHandler) Get(c *gin.Context) {
	result, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// List handles GET /api/v1/extractions.
func (h *ExtractionHandler) List(c *gin.Context) {
	page := parsePagination(c)
	items, total, err := h.service.List(c.Request.Context(), page)
	if err != nil {
		respondError(c, err)
		return
	}
	page.Total = total
	respondPage(c, items, page)
}

// SearchIncidents handles GET /api/v1/incidents.
//
//	?q=text&kind=incident&type=caseCount&geonameid=..&species=..&from=RFC3339&to=RFC3339
func (h *ExtractionHandler) SearchIncidents(c *gin.Context) {
	if h.searcher == nil {
		respondError(c, errors.New(errors.ErrCodeNotImplemented, "incident search is not enabled"))
		return
	}
	q := opensearch.IncidentQuery{
		Text:         strings.TrimSpace(c.Query("q")),
		Kind:         c.Query("kind"),
		IncidentType: c.Query("type"),
		GeonameID:    c.Query("geonameid"),
		SpeciesID:    c.Query("species"),
		Pagination:   parsePagination(c),
	}
	var err error
	if q.From, err = parseTimeParam(c, "from"); err != nil {
		respondError(c, err)
		return
	}
	if q.To, err = parseTimeParam(c, "to"); err != nil {
		respondError(c, err)
		return
	}

	hits, err := h.searcher.SearchIncidents(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	page := q.Pagination
	page.Total = hits.Total
	respondPage(c, hits.Hits, page)
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, v); err != nil {
			return nil, errors.New(errors.ErrCodeValidation, "invalid "+name+" parameter").WithDetail(v)
		}
	}
	return &t, nil
}
