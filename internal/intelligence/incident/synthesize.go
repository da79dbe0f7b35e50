package incident

import (
	"strings"

	"github.com/turtacn/EpiExtract/internal/annotation"
)

// Base types and aggregations combined into the final incident type.
const (
	BaseCaseCount  = "caseCount"
	BaseDeathCount = "deathCount"

	aggregationCumulative  = "cumulative"
	aggregationIncremental = "incremental"
)

// rowIncident is an incident before its aggregation is settled.
type rowIncident struct {
	span        annotation.Span
	baseType    string
	aggregation string
	record      annotation.Incident
}

// rowContext is what the non-number cells of a row say about its counts.
type rowContext struct {
	date        *annotation.Span
	location    *annotation.Span
	species     *annotation.Span
	baseType    string
	status      string
	aggregation string
}

func (tc *tableContext) contextFor(t *Table, row []*annotation.Span) rowContext {
	rc := rowContext{
		date:        t.LastDate,
		location:    t.LastGeoname,
		aggregation: t.Aggregation,
	}
	for c, cell := range row {
		if cell == nil {
			continue
		}
		switch t.Columns[c].Type {
		case ColumnDate:
			rc.date = cell
		case ColumnGeoname:
			rc.location = cell
		case ColumnSpecies:
			rc.species = cell
		case ColumnIncidentType:
			text := strings.ToLower(tc.doc.SpanText(*cell))
			if strings.Contains(text, "case") {
				rc.baseType = BaseCaseCount
			} else if strings.Contains(text, "death") {
				rc.baseType = BaseDeathCount
			}
		case ColumnIncidentStatus:
			rc.status = tc.doc.SpanText(*cell)
		}
	}
	return rc
}

// fromColumnName infers base type, status and aggregation from a header.
func fromColumnName(name string) (baseType, status, aggregation string) {
	name = strings.ToLower(name)
	switch {
	case strings.Contains(name, "cases"):
		baseType = BaseCaseCount
	case strings.Contains(name, "deaths"):
		baseType = BaseDeathCount
	}
	switch {
	case strings.Contains(name, "suspect") || name == "reported":
		status = "suspected"
	case strings.Contains(name, "confirmed"):
		status = "confirmed"
	}
	switch {
	case strings.Contains(name, "total"):
		aggregation = aggregationCumulative
	case strings.Contains(name, "new"):
		aggregation = aggregationIncremental
	}
	return baseType, status, aggregation
}

// rowIncidents emits one incident per number cell of row.
func (tc *tableContext) rowIncidents(t *Table, row []*annotation.Span) []*rowIncident {
	rc := tc.contextFor(t, row)

	var out []*rowIncident
	for c, cell := range row {
		if cell == nil || t.Columns[c].Type != ColumnNumber || cell.Metadata.Number == nil {
			continue
		}
		nameBase, nameStatus, nameAgg := fromColumnName(t.Columns[c].Name)

		baseType := rc.baseType
		if baseType == "" {
			baseType = nameBase
		}
		status := rc.status
		if status == "" {
			status = nameStatus
		}
		if status != "" && baseType == "" {
			baseType = BaseCaseCount
		}
		if baseType == "" {
			continue
		}
		aggregation := rc.aggregation
		if aggregation == "" {
			aggregation = nameAgg
		}

		rec := annotation.Incident{
			Value:      *cell.Metadata.Number,
			Attributes: []string{},
		}
		if status != "" {
			rec.Attributes = append(rec.Attributes, status)
		}
		if rc.location != nil {
			rec.Location = rc.location.Metadata.Geoname
		}
		if rc.species != nil && rc.species.Metadata.Species != nil {
			e := rc.species.Metadata.Species.Entity
			rec.Species = &annotation.EntityRef{ID: e.ID, Label: e.Label}
		}
		if rc.date != nil && rc.date.Metadata.DateRange != nil {
			dr := *rc.date.Metadata.DateRange
			if t.DatePeriod != nil && aggregation != aggregationCumulative {
				dr = annotation.DateRange{Start: dr.Start.Add(-*t.DatePeriod), End: dr.Start}
			}
			rec.DateRange = &dr
		}

		out = append(out, &rowIncident{
			span:        *cell,
			baseType:    baseType,
			aggregation: aggregation,
			record:      rec,
		})
	}
	return out
}

// settleAggregation marks unmarked counts cumulative when they exceed the
// largest incremental count of the same base type in the row, then composes
// the final type.
func settleAggregation(row []*rowIncident) {
	maxNew := map[string]float64{}
	for _, ri := range row {
		if ri.aggregation != aggregationIncremental {
			continue
		}
		if cur, ok := maxNew[ri.baseType]; !ok || ri.record.Value > cur {
			maxNew[ri.baseType] = ri.record.Value
		}
	}
	for _, ri := range row {
		if ri.aggregation != "" {
			continue
		}
		if m, ok := maxNew[ri.baseType]; ok && ri.record.Value > m {
			ri.aggregation = aggregationCumulative
		}
	}
	for _, ri := range row {
		ri.record.Type = composeType(ri.baseType, ri.aggregation)
	}
}

// composeType folds the aggregation into the type: cumulative caseCount
// becomes cumulativeCaseCount, anything else keeps the base type.
func composeType(baseType, aggregation string) string {
	if aggregation != aggregationCumulative {
		return baseType
	}
	return aggregationCumulative + strings.ToUpper(baseType[:1]) + baseType[1:]
}
