package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// ResolutionIncident is an incident in resolution format. Exactly one of
// Cases or Deaths is set.
type ResolutionIncident struct {
	Cases     *float64 `json:"cases,omitempty"`
	Deaths    *float64 `json:"deaths,omitempty"`
	DateRange struct {
		Start      string `json:"start"`
		End        string `json:"end"`
		Cumulative bool   `json:"cumulative"`
	} `json:"dateRange"`
	Locations []map[string]interface{} `json:"locations"`
	Species   *epi.EntityRef           `json:"species,omitempty"`
}

// SearchHit is one indexed infection or incident span.
type SearchHit struct {
	DocumentID   string     `json:"document_id"`
	Kind         string     `json:"kind"`
	Ordinal      int        `json:"ordinal"`
	Start        int        `json:"start"`
	End          int        `json:"end"`
	Text         string     `json:"text"`
	Attributes   []string   `json:"attributes"`
	Count        *float64   `json:"count,omitempty"`
	IncidentType string     `json:"incident_type,omitempty"`
	Value        *float64   `json:"value,omitempty"`
	GeonameID    string     `json:"geonameid,omitempty"`
	LocationName string     `json:"location_name,omitempty"`
	DateStart    *time.Time `json:"date_start,omitempty"`
	DateEnd      *time.Time `json:"date_end,omitempty"`
	SpeciesID    string     `json:"species_id,omitempty"`
	SpeciesLabel string     `json:"species_label,omitempty"`
	ExtractedAt  time.Time  `json:"extracted_at"`
}

// IncidentSearch filters GET /api/v1/incidents. Zero fields are omitted.
type IncidentSearch struct {
	Text         string
	Kind         string
	IncidentType string
	GeonameID    string
	SpeciesID    string
	From         time.Time
	To           time.Time
	Page         int
	PageSize     int
}

func (q IncidentSearch) values() url.Values {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("q", q.Text)
	set("kind", q.Kind)
	set("type", q.IncidentType)
	set("geonameid", q.GeonameID)
	set("species", q.SpeciesID)
	if !q.From.IsZero() {
		v.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		v.Set("to", q.To.UTC().Format(time.RFC3339))
	}
	setPage(v, q.Page, q.PageSize)
	return v
}

func setPage(v url.Values, page, pageSize int) {
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		v.Set("page_size", strconv.Itoa(pageSize))
	}
}

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T
	Pagination common.Pagination
}

// Extract runs extraction on doc.
func (c *Client) Extract(ctx context.Context, doc *epi.AnnotatedDocument) (*epi.ExtractionResult, error) {
	if doc == nil {
		return nil, errors.New(errors.ErrCodeDocumentEmpty, "document is nil")
	}
	var resp common.APIResponse[*epi.ExtractionResult]
	if err := c.post(ctx, "/api/v1/extractions", doc, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ExtractBatch runs extraction on docs. Per-document failures are reported
// in the response, not as an error.
func (c *Client) ExtractBatch(ctx context.Context, docs []*epi.AnnotatedDocument, stopOnError bool) (*common.BatchResponse[*epi.ExtractionResult], error) {
	req := common.BatchRequest[*epi.AnnotatedDocument]{Items: docs, StopOnError: stopOnError}
	var resp common.APIResponse[*common.BatchResponse[*epi.ExtractionResult]]
	if err := c.post(ctx, "/api/v1/extractions/batch", req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Resolve returns the case and death incidents of doc in resolution format.
func (c *Client) Resolve(ctx context.Context, doc *epi.AnnotatedDocument) ([]ResolutionIncident, error) {
	if doc == nil {
		return nil, errors.New(errors.ErrCodeDocumentEmpty, "document is nil")
	}
	var resp common.APIResponse[[]ResolutionIncident]
	if err := c.post(ctx, "/api/v1/extractions/resolve", doc, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Get fetches a stored result.
func (c *Client) Get(ctx context.Context, documentID string) (*epi.ExtractionResult, error) {
	if documentID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "document id is required")
	}
	var resp common.APIResponse[*epi.ExtractionResult]
	if err := c.get(ctx, "/api/v1/extractions/"+url.PathEscape(documentID), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// List pages through stored results, newest first.
func (c *Client) List(ctx context.Context, page, pageSize int) (*Page[epi.ExtractionSummary], error) {
	v := url.Values{}
	setPage(v, page, pageSize)
	path := "/api/v1/extractions"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var resp common.APIResponse[[]epi.ExtractionSummary]
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return newPage(resp), nil
}

// SearchIncidents queries the incident index.
func (c *Client) SearchIncidents(ctx context.Context, q IncidentSearch) (*Page[SearchHit], error) {
	path := "/api/v1/incidents"
	if v := q.values(); len(v) > 0 {
		path += "?" + v.Encode()
	}
	var resp common.APIResponse[[]SearchHit]
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return newPage(resp), nil
}

func newPage[T any](resp common.APIResponse[[]T]) *Page[T] {
	p := &Page[T]{Items: resp.Data}
	if resp.Pagination != nil {
		p.Pagination = *resp.Pagination
	}
	return p
}
