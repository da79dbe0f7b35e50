package incident

import (
	"strings"
	"time"

	"github.com/turtacn/EpiExtract/internal/annotation"
)

// resolutionTimeLayout matches the timestamps the incident resolver expects.
const resolutionTimeLayout = "2006-01-02T15:04:05.000000-0700"

// ResolutionDateRange is the date range of a formatted incident.
type ResolutionDateRange struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	Cumulative bool   `json:"cumulative"`
}

// ResolutionIncident is an incident in the shape consumed by incident
// resolution services. Exactly one of Cases or Deaths is set.
type ResolutionIncident struct {
	Cases     *float64              `json:"cases,omitempty"`
	Deaths    *float64              `json:"deaths,omitempty"`
	DateRange ResolutionDateRange   `json:"dateRange"`
	Locations []annotation.Geoname  `json:"locations"`
	Species   *annotation.EntityRef `json:"species,omitempty"`
}

// FormatForResolution converts incident spans for resolution. Spans that
// are not case or death counts, or carry no date range, are skipped.
func FormatForResolution(spans []annotation.Span) []ResolutionIncident {
	out := make([]ResolutionIncident, 0, len(spans))
	for _, s := range spans {
		inc := s.Metadata.Incident
		if inc == nil || inc.DateRange == nil {
			continue
		}
		value := inc.Value
		typ := strings.ToLower(inc.Type)

		ri := ResolutionIncident{
			DateRange: ResolutionDateRange{
				Start:      formatResolutionTime(inc.DateRange.Start),
				End:        formatResolutionTime(inc.DateRange.End),
				Cumulative: strings.Contains(typ, "cumulative"),
			},
			Locations: []annotation.Geoname{},
			Species:   inc.Species,
		}
		switch {
		case strings.Contains(typ, "case"):
			ri.Cases = &value
		case strings.Contains(typ, "death"):
			ri.Deaths = &value
		default:
			continue
		}
		if inc.Location != nil {
			ri.Locations = append(ri.Locations, inc.Location)
		}
		out = append(out, ri)
	}
	return out
}

func formatResolutionTime(t time.Time) string {
	return t.Format(resolutionTimeLayout)
}
