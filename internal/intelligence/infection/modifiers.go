package infection

import (
	"strings"

	"github.com/turtacn/EpiExtract/internal/annotation"
)

// modifierMaxDist is the largest gap, in code points, between a count span and
// a qualifier it absorbs.
const modifierMaxDist = 1

// Qualifier lemma groups. The first lemma of a group is its label.
var (
	statusGroups = []struct{ lemma, label string }{
		{"suspect", "suspected"},
		{"confirm", "confirmed"},
	}

	modifierLemmaGroups = []string{
		"average|mean",
		"annual|annually",
		"monthly",
		"weekly",
		"cumulative|total|already",
		"incremental|new|additional|recent",
		"max|less|below|under|most|maximum|up",
		"min|greater|above|over|least|minimum|down|exceeds",
		"approximate|about|near|around",
		"ongoing|active",
	}
)

// searchLemmas labels every token whose lemma is in lemmas.
func searchLemmas(tokens *annotation.Tier, label string, lemmas ...string) *annotation.Tier {
	set := make(map[string]bool, len(lemmas))
	for _, l := range lemmas {
		set[l] = true
	}
	return tokens.Filter(func(s annotation.Span) bool {
		return s.Metadata.Token != nil && set[s.Metadata.Token.Lemma]
	}).LabelSpans(label)
}

// AddCountModifiers groups candidate spans with adjacent qualifier words,
// keeps the best non-overlapping set and flattens every group into one span.
// Qualifiers inside a person or place name are ignored.
func AddCountModifiers(doc *annotation.Document, spans []annotation.Span) (*annotation.Tier, error) {
	tiers, err := doc.RequireTiers(annotation.TierTokens, annotation.TierNamedEntities)
	if err != nil {
		return nil, err
	}
	tokens, nes := tiers[0], tiers[1]

	candidates := annotation.NewTier(spans)

	var statuses *annotation.Tier
	for _, g := range statusGroups {
		statuses = statuses.Add(searchLemmas(tokens, g.label, g.lemma))
	}
	candidates = candidates.Add(candidates.WithNearbySpansFrom(statuses, modifierMaxDist))

	personAndPlace := nes.WithLabel("GPE").Add(nes.WithLabel("PERSON"))
	for _, group := range modifierLemmaGroups {
		lemmas := strings.Split(group, "|")
		found := searchLemmas(tokens, lemmas[0], lemmas...).WithoutOverlaps(personAndPlace)
		candidates = candidates.Add(candidates.WithNearbySpansFrom(found, modifierMaxDist))
	}

	best := candidates.OptimalSpanSet(doc, annotation.PreferNumSpansAndNoLinebreaks)
	out := make([]annotation.Span, best.Len())
	for i, s := range best.Spans() {
		out[i] = CollapseSpanGroup(doc, s)
	}
	return annotation.NewPresortedTier(out), nil
}

// CollapseSpanGroup flattens a span group into one span whose attributes are
// the sorted union of the group label and every descendant's attributes.
// Other metadata slots come from the descendants, later ones winning. Atomic
// spans are returned unchanged.
func CollapseSpanGroup(doc *annotation.Document, group annotation.Span) annotation.Span {
	if !group.IsGroup() {
		return group
	}
	md := annotation.Metadata{HasAttributes: true}
	if group.Label != "" {
		md.Attributes = []string{group.Label}
	}
	for _, base := range group.BaseSpans {
		child := CollapseSpanGroup(doc, base)
		if !child.Metadata.IsZero() {
			md = md.Overlay(child.Metadata)
		}
	}
	md.Attributes = md.SortedAttributes()
	md.Token = nil
	return doc.Span(group.Start, group.End, md)
}
