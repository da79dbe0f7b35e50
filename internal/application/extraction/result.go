package extraction

import (
	"github.com/turtacn/EpiExtract/internal/annotation"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// buildResult converts the output tiers of an annotated document.
func buildResult(doc *annotation.Document, opts epi.Options) (*epi.ExtractionResult, error) {
	tiers, err := doc.RequireTiers(annotation.TierInfections, annotation.TierStructuredIncidents)
	if err != nil {
		return nil, err
	}

	result := &epi.ExtractionResult{
		DocumentID: doc.ID(),
		Options:    opts,
		Infections: make([]epi.Infection, 0, tiers[0].Len()),
		Incidents:  make([]epi.Incident, 0, tiers[1].Len()),
	}
	for _, s := range tiers[0].Spans() {
		result.Infections = append(result.Infections, toInfection(doc, s))
	}
	for _, s := range tiers[1].Spans() {
		if s.Metadata.Incident == nil {
			continue
		}
		result.Incidents = append(result.Incidents, toIncident(doc, s))
	}
	return result, nil
}

func toInfection(doc *annotation.Document, s annotation.Span) epi.Infection {
	inf := epi.Infection{
		Start:      s.Start,
		End:        s.End,
		Text:       doc.SpanText(s),
		Attributes: s.Metadata.SortedAttributes(),
		Debug:      s.Metadata.Debug,
	}
	if inf.Attributes == nil {
		inf.Attributes = []string{}
	}
	if s.Metadata.Count.Single() {
		v := s.Metadata.Count.Value()
		inf.Count = &v
	}
	return inf
}

func toIncident(doc *annotation.Document, s annotation.Span) epi.Incident {
	rec := s.Metadata.Incident
	inc := epi.Incident{
		Start:      s.Start,
		End:        s.End,
		Text:       doc.SpanText(s),
		Type:       rec.Type,
		Value:      rec.Value,
		Attributes: append([]string{}, rec.Attributes...),
		Location:   rec.Location,
	}
	if rec.DateRange != nil {
		inc.DateRange = &epi.DateRange{Start: rec.DateRange.Start, End: rec.DateRange.End}
	}
	if rec.Species != nil {
		inc.Species = &epi.EntityRef{ID: rec.Species.ID, Label: rec.Species.Label}
	}
	return inc
}
