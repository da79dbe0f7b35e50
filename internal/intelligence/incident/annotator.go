// Package incident reads case and death counts out of structured tables and
// publishes them as the "structured_incidents" tier.
//
// Every column of a table is typed by majority vote against the document's
// entity tiers (geonames, dates, species, numbers, incident keywords). Rows
// are then walked left to right: non-number cells set the row's location,
// date, species and status, and each number cell becomes one incident.
package incident

import (
	"time"

	"github.com/turtacn/EpiExtract/internal/annotation"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
)

// Annotator produces the structured_incidents tier.
type Annotator struct {
	logger logging.Logger
}

// NewAnnotator creates an incident annotator. A nil logger is replaced by a
// no-op logger.
func NewAnnotator(logger logging.Logger) *Annotator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Annotator{logger: logger}
}

// Name implements annotation.Producer.
func (a *Annotator) Name() string { return "structured_incident" }

// Provides implements annotation.Producer.
func (a *Annotator) Provides() []string { return []string{annotation.TierStructuredIncidents} }

// Produce implements annotation.Producer.
func (a *Annotator) Produce(doc *annotation.Document) (map[string]*annotation.Tier, error) {
	start := time.Now()

	tables, err := Tables(doc)
	if err != nil {
		return nil, err
	}

	var spans []annotation.Span
	for _, t := range tables {
		spans = append(spans, Synthesize(doc, t)...)
	}

	a.logger.Debug("structured incidents extracted",
		logging.String("document_id", doc.ID()),
		logging.Int("tables", len(tables)),
		logging.Int("incidents", len(spans)),
		logging.Duration("duration", time.Since(start)),
	)
	return map[string]*annotation.Tier{annotation.TierStructuredIncidents: annotation.NewTier(spans)}, nil
}

// Tables classifies every table of the document's structured_data tier.
func Tables(doc *annotation.Document) ([]*Table, error) {
	structured, err := doc.RequireTier(annotation.TierStructuredData)
	if err != nil {
		return nil, err
	}
	tc, err := newTableContext(doc)
	if err != nil {
		return nil, err
	}
	var out []*Table
	for _, s := range structured.Spans() {
		if s.Metadata.TableType != "table" {
			continue
		}
		if t := tc.readTable(s); t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// Synthesize turns the rows of t into incident spans, one per number cell
// with a known base type.
func Synthesize(doc *annotation.Document, t *Table) []annotation.Span {
	tc := &tableContext{doc: doc}
	var out []annotation.Span
	for _, row := range t.Rows {
		incidents := tc.rowIncidents(t, row)
		settleAggregation(incidents)
		for _, ri := range incidents {
			rec := ri.record
			out = append(out, doc.Span(ri.span.Start, ri.span.End, annotation.Metadata{Incident: &rec}))
		}
	}
	return out
}

var _ annotation.Producer = (*Annotator)(nil)
