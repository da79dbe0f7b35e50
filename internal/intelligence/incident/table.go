package incident

import (
	"regexp"
	"sort"
	"time"

	"github.com/turtacn/EpiExtract/internal/annotation"
)

var cumulativeTitle = regexp.MustCompile(`(?i)cumulative`)

// ColumnDefinition describes one classified column. Name is empty when the
// table has no header row.
type ColumnDefinition struct {
	Name string     `json:"name,omitempty"`
	Type ColumnType `json:"type"`
}

// Table is a structured_data table with classified columns. A row cell is
// the group of entities of the column type found in it, or nil.
type Table struct {
	Columns []ColumnDefinition
	Rows    [][]*annotation.Span

	// Title is the part of the sentence preceding the table, if any.
	Title *annotation.Span
	// DatePeriod is the median gap between consecutive dates of the first
	// date column, if one could be measured.
	DatePeriod *time.Duration
	// Aggregation is "cumulative" when the title says so.
	Aggregation string
	LastGeoname *annotation.Span
	LastDate    *annotation.Span
}

// tableContext is the document-level input needed to read tables.
type tableContext struct {
	doc       *annotation.Document
	types     []typedEntities
	numbers   *annotation.Tier
	sentences *annotation.Tier
	geonames  *annotation.Tier
	dates     *annotation.Tier
}

func newTableContext(doc *annotation.Document) (*tableContext, error) {
	types, err := entityTiers(doc)
	if err != nil {
		return nil, err
	}
	tiers, err := doc.RequireTiers(annotation.TierRawNumbers, annotation.TierSentences,
		annotation.TierGeonames, annotation.TierDates)
	if err != nil {
		return nil, err
	}
	return &tableContext{
		doc:       doc,
		types:     types,
		numbers:   tiers[0],
		sentences: tiers[1],
		geonames:  tiers[2],
		dates:     tiers[3],
	}, nil
}

func spanPtr(s annotation.Span, ok bool) *annotation.Span {
	if !ok {
		return nil
	}
	return &s
}

// readTable classifies the columns of one structured_data table span.
func (tc *tableContext) readTable(span annotation.Span) *Table {
	rows := span.Metadata.Rows
	if len(rows) == 0 {
		return nil
	}
	t := &Table{
		LastGeoname: spanPtr(tc.geonames.SpanBefore(span)),
		LastDate:    spanPtr(tc.dates.SpanBefore(span)),
	}
	if title, ok := tc.sentences.SpanBefore(span); ok {
		end := title.End
		if span.Start < end {
			end = span.Start
		}
		ts := tc.doc.Span(title.Start, end, annotation.Metadata{})
		t.Title = &ts
		if cumulativeTitle.MatchString(tc.doc.SpanText(ts)) {
			t.Aggregation = aggregationCumulative
		}
	}

	// a first row without numbers is a header
	header := rows[0]
	hasHeader := true
	for _, g := range annotation.NewPresortedTier(header).GroupSpansByContainingSpan(tc.numbers) {
		if len(g.Contained) > 0 {
			hasHeader = false
			break
		}
	}
	body := rows
	if hasHeader {
		body = rows[1:]
	}

	// ragged rows are misparsed; keep rows of the median width
	widths := make([]int, len(rows))
	for i, r := range rows {
		widths[i] = len(r)
	}
	width := medianInt(widths)
	var data [][]annotation.Span
	for _, r := range body {
		if float64(len(r)) == width {
			data = append(data, r)
		}
	}

	ncols := int(width)
	if float64(ncols) != width || len(data) == 0 {
		ncols = 0
	}
	columns := make([][]*annotation.Span, ncols)
	t.Columns = make([]ColumnDefinition, ncols)
	for c := 0; c < ncols; c++ {
		cells := make([]annotation.Span, len(data))
		for r, row := range data {
			cells[r] = row[c]
		}
		typ, entities := classifyColumn(tc.doc, cells, tc.types)
		columns[c] = entities
		t.Columns[c].Type = typ
		if hasHeader && c < len(header) {
			t.Columns[c].Name = tc.doc.SpanText(header[c])
		}
	}

	t.Rows = make([][]*annotation.Span, len(data))
	for r := range data {
		t.Rows[r] = make([]*annotation.Span, ncols)
		for c := 0; c < ncols; c++ {
			t.Rows[r][c] = columns[c][r]
		}
	}

	for c, def := range t.Columns {
		if def.Type == ColumnDate {
			t.DatePeriod = datePeriod(columns[c])
			break
		}
	}
	return t
}

// datePeriod is the median absolute gap between the start dates of
// consecutive cells in each unbroken run of dated cells.
func datePeriod(cells []*annotation.Span) *time.Duration {
	var diffs []time.Duration
	var prev *annotation.DateRange
	for _, c := range cells {
		var cur *annotation.DateRange
		if c != nil {
			cur = c.Metadata.DateRange
		}
		if cur != nil && prev != nil {
			d := cur.Start.Sub(prev.Start)
			if d < 0 {
				d = -d
			}
			diffs = append(diffs, d)
		}
		prev = cur
	}
	if len(diffs) == 0 {
		return nil
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })
	mid := (len(diffs) - 1) / 2
	period := diffs[mid]
	if len(diffs)%2 == 0 {
		period = (diffs[mid] + diffs[mid+1]) / 2
	}
	return &period
}
