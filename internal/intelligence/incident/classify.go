package incident

import (
	"sort"
	"strings"

	"github.com/turtacn/EpiExtract/internal/annotation"
)

// ColumnType is the entity type a table column holds.
type ColumnType string

// Column types in classification priority order. Text is the fallback.
const (
	ColumnGeoname        ColumnType = "geoname"
	ColumnDate           ColumnType = "date"
	ColumnSpecies        ColumnType = "species"
	ColumnNumber         ColumnType = "number"
	ColumnIncidentType   ColumnType = "incident_type"
	ColumnIncidentStatus ColumnType = "incident_status"
	ColumnText           ColumnType = "text"
)

// minColumnMatchRatio is the share of non-null cells that must hold an
// entity of the winning type.
const minColumnMatchRatio = 0.3

const (
	incidentTypePattern   = `(case|death)s?`
	incidentStatusPattern = `suspected|confirmed`
)

// typedEntities is one competing entity type and the spans of that type.
type typedEntities struct {
	Type  ColumnType
	Spans *annotation.Tier
}

// entityTiers gathers the competing entity tiers of doc in priority order.
// Ties between types go to the earlier entry.
func entityTiers(doc *annotation.Document) ([]typedEntities, error) {
	tiers, err := doc.RequireTiers(
		annotation.TierGeonames,
		annotation.TierDates,
		annotation.TierResolvedKeywords,
		annotation.TierTokens,
		annotation.TierRawNumbers,
	)
	if err != nil {
		return nil, err
	}
	geonames, dates, keywords, tokens, numbers := tiers[0], tiers[1], tiers[2], tiers[3], tiers[4]

	incidentTypes, err := tokens.SearchSpans(doc, incidentTypePattern)
	if err != nil {
		return nil, err
	}
	statuses, err := tokens.SearchSpans(doc, incidentStatusPattern)
	if err != nil {
		return nil, err
	}

	return []typedEntities{
		{ColumnGeoname, geonames},
		{ColumnDate, dates},
		{ColumnSpecies, speciesSpans(doc, keywords)},
		{ColumnNumber, numbers.WithoutOverlaps(dates)},
		{ColumnIncidentType, incidentTypes},
		{ColumnIncidentStatus, statuses},
	}, nil
}

// speciesSpans keeps the first species resolution of every keyword span and
// resolves overlapping keywords in favour of the longer text.
func speciesSpans(doc *annotation.Document, keywords *annotation.Tier) *annotation.Tier {
	var out []annotation.Span
	for _, k := range keywords.Spans() {
		for _, r := range k.Metadata.Resolutions {
			if r.Entity.Type == "species" {
				res := r
				out = append(out, doc.Span(k.Start, k.End, annotation.Metadata{Species: &res}))
				break
			}
		}
	}
	return annotation.NewTier(out).OptimalSpanSet(doc, annotation.PreferTextLength)
}

// isNull reports whether a cell is empty or a dash placeholder.
func isNull(text string) bool {
	text = strings.TrimSpace(text)
	return text == "" || text == "-"
}

// cellEntities returns, for every cell, the group of contained entities or
// nil, and how many cells contain exactly one entity.
func cellEntities(cells *annotation.Tier, entities *annotation.Tier) ([]*annotation.Span, int) {
	groups := cells.GroupSpansByContainingSpan(entities)
	out := make([]*annotation.Span, len(groups))
	matches := 0
	for i, g := range groups {
		if len(g.Contained) == 0 {
			continue
		}
		grp := annotation.NewSpanGroup(g.Contained, "", annotation.CombineMetadata(g.Contained))
		out[i] = &grp
		if len(g.Contained) == 1 {
			matches++
		}
	}
	return out, matches
}

// classifyColumn votes on the type of a column of cells. The winning type
// must match more than minColumnMatchRatio of the non-null cells; otherwise
// the column is text and every cell is null.
func classifyColumn(doc *annotation.Document, cells []annotation.Span, types []typedEntities) (ColumnType, []*annotation.Span) {
	nonNull := 0
	for _, c := range cells {
		if !isNull(doc.SpanText(c)) {
			nonNull++
		}
	}

	column := annotation.NewPresortedTier(cells)
	best, bestMatches := ColumnText, 0
	bestEntities := make([]*annotation.Span, len(cells))
	if nonNull == 0 {
		return best, bestEntities
	}
	for _, te := range types {
		entities, matches := cellEntities(column, te.Spans)
		if float64(matches)/float64(nonNull) > minColumnMatchRatio && matches > bestMatches {
			best, bestMatches, bestEntities = te.Type, matches, entities
		}
	}
	return best, bestEntities
}

// ---------------------------------------------------------------------------
// Medians
// ---------------------------------------------------------------------------

func medianInt(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]int(nil), values...)
	sort.Ints(s)
	mid := (len(s) - 1) / 2
	if len(s)%2 == 1 {
		return float64(s[mid])
	}
	return float64(s[mid]+s[mid+1]) / 2
}
