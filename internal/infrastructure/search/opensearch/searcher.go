package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
)

// IncidentQuery filters indexed infections and incidents.
type IncidentQuery struct {
	Text         string
	Kind         string
	IncidentType string
	GeonameID    string
	SpeciesID    string
	From         *time.Time
	To           *time.Time
	Pagination   common.Pagination
}

// IncidentHits is one page of search results.
type IncidentHits struct {
	Total int64            `json:"total"`
	Hits  []SearchDocument `json:"hits"`
}

// SearchIncidents runs q against the index, newest extractions first.
func (i *Indexer) SearchIncidents(ctx context.Context, q IncidentQuery) (*IncidentHits, error) {
	page := q.Pagination.Normalize()
	if err := page.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid pagination")
	}
	body, err := json.Marshal(map[string]interface{}{
		"query": q.build(),
		"from":  page.Offset(),
		"size":  page.PageSize,
		"sort": []interface{}{
			map[string]interface{}{"extracted_at": "desc"},
			map[string]interface{}{"document_id": "asc"},
			map[string]interface{}{"ordinal": "asc"},
		},
		"track_total_hits": true,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal search query")
	}

	resp, err := opensearchapi.SearchRequest{
		Index: []string{i.config.Index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, i.client.client)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSearchIndex, "search request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, responseError(resp, "search")
	}

	var sr struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source SearchDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode search response")
	}

	out := &IncidentHits{Total: sr.Hits.Total.Value, Hits: make([]SearchDocument, 0, len(sr.Hits.Hits))}
	for _, h := range sr.Hits.Hits {
		out.Hits = append(out.Hits, h.Source)
	}
	return out, nil
}

func (q IncidentQuery) build() map[string]interface{} {
	var must, filter []interface{}
	if q.Text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Text,
				"fields": []string{"text", "location_name"},
			},
		})
	}
	term := func(field, value string) {
		if value != "" {
			filter = append(filter, map[string]interface{}{"term": map[string]interface{}{field: value}})
		}
	}
	term("kind", q.Kind)
	term("incident_type", q.IncidentType)
	term("geonameid", q.GeonameID)
	term("species_id", q.SpeciesID)

	// Date bounds select incidents whose range overlaps [From, To).
	if q.To != nil {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"date_start": map[string]interface{}{"lt": q.To.Format(time.RFC3339)}},
		})
	}
	if q.From != nil {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"date_end": map[string]interface{}{"gt": q.From.Format(time.RFC3339)}},
		})
	}

	if len(must) == 0 && len(filter) == 0 {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	b := map[string]interface{}{}
	if len(must) > 0 {
		b["must"] = must
	}
	if len(filter) > 0 {
		b["filter"] = filter
	}
	return map[string]interface{}{"bool": b}
}
