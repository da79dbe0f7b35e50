package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

const (
	KindInfection = "infection"
	KindIncident  = "incident"

	defaultIndex     = "epi-incidents"
	defaultBatchSize = 500
)

// SearchDocument is the indexed form of one infection or incident.
type SearchDocument struct {
	DocumentID   string                 `json:"document_id"`
	Kind         string                 `json:"kind"`
	Ordinal      int                    `json:"ordinal"`
	Start        int                    `json:"start"`
	End          int                    `json:"end"`
	Text         string                 `json:"text"`
	Attributes   []string               `json:"attributes"`
	Count        *float64               `json:"count,omitempty"`
	IncidentType string                 `json:"incident_type,omitempty"`
	Value        *float64               `json:"value,omitempty"`
	GeonameID    string                 `json:"geonameid,omitempty"`
	LocationName string                 `json:"location_name,omitempty"`
	Location     map[string]interface{} `json:"location,omitempty"`
	DateStart    *time.Time             `json:"date_start,omitempty"`
	DateEnd      *time.Time             `json:"date_end,omitempty"`
	SpeciesID    string                 `json:"species_id,omitempty"`
	SpeciesLabel string                 `json:"species_label,omitempty"`
	ExtractedAt  time.Time              `json:"extracted_at"`
}

// ID is the index document id.
func (d SearchDocument) ID() string {
	return fmt.Sprintf("%s:%s:%d", d.DocumentID, d.Kind, d.Ordinal)
}

// BulkItemError describes one rejected bulk item.
type BulkItemError struct {
	DocID     string
	ErrorType string
	Reason    string
}

// BulkResult summarizes a bulk request.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// IndexerConfig holds the indexer settings.
type IndexerConfig struct {
	Index         string
	BulkBatchSize int
	// RefreshPolicy is passed as the bulk refresh parameter.
	RefreshPolicy string
}

// Indexer writes extraction results to the search index.
type Indexer struct {
	client *Client
	config IndexerConfig
	logger logging.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(client *Client, cfg IndexerConfig, log logging.Logger) *Indexer {
	if cfg.Index == "" {
		cfg.Index = defaultIndex
	}
	if cfg.BulkBatchSize <= 0 {
		cfg.BulkBatchSize = defaultBatchSize
	}
	if cfg.RefreshPolicy == "" {
		cfg.RefreshPolicy = "false"
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Indexer{client: client, config: cfg, logger: log.Named("opensearch.indexer")}
}

// Index returns the index name.
func (i *Indexer) Index() string { return i.config.Index }

// EnsureIndex creates the index with IncidentIndexMapping when missing.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := i.IndexExists(ctx)
	if err != nil || exists {
		return err
	}

	body, err := json.Marshal(IncidentIndexMapping())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}
	resp, err := opensearchapi.IndicesCreateRequest{
		Index: i.config.Index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, i.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchIndex, "create index request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return responseError(resp, "create index")
	}
	i.logger.Info("index created", logging.String("index", i.config.Index))
	return nil
}

// IndexExists reports whether the index exists.
func (i *Indexer) IndexExists(ctx context.Context) (bool, error) {
	resp, err := opensearchapi.IndicesExistsRequest{Index: []string{i.config.Index}}.Do(ctx, i.client.client)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeSearchIndex, "index exists request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, responseError(resp, "check index")
	}
}

// IndexResult replaces every search document of result.DocumentID with
// one document per infection and incident.
func (i *Indexer) IndexResult(ctx context.Context, result *epi.ExtractionResult) error {
	if err := i.DeleteDocument(ctx, result.DocumentID); err != nil {
		return err
	}
	docs := SearchDocuments(result)
	if len(docs) == 0 {
		return nil
	}
	res, err := i.BulkIndex(ctx, docs)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		first := res.Errors[0]
		return errors.Newf(errors.ErrCodeSearchIndex, "%d of %d search documents rejected", res.Failed, len(docs)).
			WithDetail(fmt.Sprintf("%s: %s %s", first.DocID, first.ErrorType, first.Reason))
	}
	return nil
}

// DeleteDocument removes the search documents of documentID.
func (i *Indexer) DeleteDocument(ctx context.Context, documentID string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]interface{}{"document_id": documentID}},
	})
	resp, err := opensearchapi.DeleteByQueryRequest{
		Index:     []string{i.config.Index},
		Body:      bytes.NewReader(body),
		Conflicts: "proceed",
	}.Do(ctx, i.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchIndex, "delete by query request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() && resp.StatusCode != 404 {
		return responseError(resp, "delete by query")
	}
	return nil
}

// BulkIndex writes docs in batches of BulkBatchSize.
func (i *Indexer) BulkIndex(ctx context.Context, docs []SearchDocument) (*BulkResult, error) {
	result := &BulkResult{}
	for start := 0; start < len(docs); start += i.config.BulkBatchSize {
		end := start + i.config.BulkBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := i.bulk(ctx, docs[start:end], result); err != nil {
			return result, err
		}
	}
	i.logger.Debug("bulk index completed",
		logging.Int("total", len(docs)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
		ID    string `json:"_id"`
	} `json:"index"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (i *Indexer) bulk(ctx context.Context, batch []SearchDocument, result *BulkResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range batch {
		var action bulkAction
		action.Index.Index = i.config.Index
		action.Index.ID = doc.ID()
		if err := enc.Encode(action); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode bulk action")
		}
		if err := enc.Encode(doc); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode search document")
		}
	}

	resp, err := opensearchapi.BulkRequest{
		Body:    &buf,
		Refresh: i.config.RefreshPolicy,
	}.Do(ctx, i.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchIndex, "bulk request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return responseError(resp, "bulk")
	}

	var br bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode bulk response")
	}
	if !br.Errors {
		result.Succeeded += len(br.Items)
		return nil
	}
	for _, item := range br.Items {
		for _, info := range item {
			if info.Status >= 200 && info.Status < 300 {
				result.Succeeded++
				continue
			}
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{
				DocID:     info.ID,
				ErrorType: info.Error.Type,
				Reason:    info.Error.Reason,
			})
		}
	}
	return nil
}

// SearchDocuments flattens result into one search document per infection
// and incident.
func SearchDocuments(result *epi.ExtractionResult) []SearchDocument {
	docs := make([]SearchDocument, 0, len(result.Infections)+len(result.Incidents))
	for n, inf := range result.Infections {
		docs = append(docs, SearchDocument{
			DocumentID:  result.DocumentID,
			Kind:        KindInfection,
			Ordinal:     n,
			Start:       inf.Start,
			End:         inf.End,
			Text:        inf.Text,
			Attributes:  nonNil(inf.Attributes),
			Count:       inf.Count,
			ExtractedAt: result.ExtractedAt,
		})
	}
	for n, inc := range result.Incidents {
		value := inc.Value
		doc := SearchDocument{
			DocumentID:   result.DocumentID,
			Kind:         KindIncident,
			Ordinal:      n,
			Start:        inc.Start,
			End:          inc.End,
			Text:         inc.Text,
			Attributes:   nonNil(inc.Attributes),
			IncidentType: inc.Type,
			Value:        &value,
			Location:     inc.Location,
			ExtractedAt:  result.ExtractedAt,
		}
		if inc.Location != nil {
			doc.GeonameID = stringField(inc.Location, "geonameid")
			doc.LocationName = stringField(inc.Location, "name")
		}
		if inc.DateRange != nil {
			start, end := inc.DateRange.Start, inc.DateRange.End
			doc.DateStart, doc.DateEnd = &start, &end
		}
		if inc.Species != nil {
			doc.SpeciesID, doc.SpeciesLabel = inc.Species.ID, inc.Species.Label
		}
		docs = append(docs, doc)
	}
	return docs
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func responseError(resp *opensearchapi.Response, op string) error {
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Reason != "" {
		return errors.Newf(errors.ErrCodeSearchIndex, "%s failed: %s - %s", op, body.Error.Type, body.Error.Reason)
	}
	return errors.Newf(errors.ErrCodeSearchIndex, "%s failed with status %d", op, resp.StatusCode)
}

// IncidentIndexMapping is the mapping of the search index.
func IncidentIndexMapping() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	date := map[string]interface{}{"type": "date"}
	double := map[string]interface{}{"type": "double"}
	integer := map[string]interface{}{"type": "integer"}
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 1,
		},
		"mappings": map[string]interface{}{
			"dynamic": "strict",
			"properties": map[string]interface{}{
				"document_id":   keyword,
				"kind":          keyword,
				"ordinal":       integer,
				"start":         integer,
				"end":           integer,
				"text":          map[string]interface{}{"type": "text"},
				"attributes":    keyword,
				"count":         double,
				"incident_type": keyword,
				"value":         double,
				"geonameid":     keyword,
				"location_name": map[string]interface{}{"type": "text", "fields": map[string]interface{}{"raw": keyword}},
				"location":      map[string]interface{}{"type": "object", "enabled": false},
				"date_start":    date,
				"date_end":      date,
				"species_id":    keyword,
				"species_label": keyword,
				"extracted_at":  date,
			},
		},
	}
}
