package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spansOf(doc *Document, ranges ...[2]int) []Span {
	out := make([]Span, len(ranges))
	for i, r := range ranges {
		out[i] = doc.Span(r[0], r[1], Metadata{})
	}
	return out
}

func bounds(t *Tier) [][2]int {
	out := make([][2]int, 0, t.Len())
	for _, s := range t.Spans() {
		out = append(out, [2]int{s.Start, s.End})
	}
	return out
}

// ---------------------------------------------------------------------------
// Span
// ---------------------------------------------------------------------------

func TestNewSpanGroup_IsConvexHull(t *testing.T) {
	doc := NewDocument("d", "0123456789abcdef")
	g := NewSpanGroup(spansOf(doc, [2]int{5, 7}, [2]int{1, 3}, [2]int{9, 12}), "grp", Metadata{})

	assert.Equal(t, 1, g.Start)
	assert.Equal(t, 12, g.End)
	assert.Equal(t, doc.Ref(), g.Doc)
	assert.Equal(t, "grp", g.Label)
	assert.Equal(t, 3, g.NumLeaves())
	assert.True(t, g.IsGroup())
}

func TestNewSpan_ClampsInvertedRange(t *testing.T) {
	s := NewSpan(5, 2, 0, Metadata{})
	assert.Equal(t, 5, s.Start)
	assert.Equal(t, 5, s.End)
}

func TestSpan_OverlapsAndDistance(t *testing.T) {
	a := Span{Start: 0, End: 5}
	b := Span{Start: 5, End: 8}
	c := Span{Start: 3, End: 4}

	assert.False(t, a.Overlaps(b))
	assert.True(t, a.Overlaps(c))
	assert.True(t, a.Contains(c))
	assert.Equal(t, 0, a.Distance(b))
	assert.Equal(t, 2, a.Distance(Span{Start: 7, End: 9}))
	assert.Equal(t, 2, Span{Start: 7, End: 9}.Distance(a))
}

// ---------------------------------------------------------------------------
// Tier
// ---------------------------------------------------------------------------

func TestNewTier_SortsByStartThenEnd(t *testing.T) {
	doc := NewDocument("d", "some text that is long enough")
	tier := NewTier(spansOf(doc, [2]int{4, 9}, [2]int{0, 3}, [2]int{4, 6}))
	assert.Equal(t, [][2]int{{0, 3}, {4, 6}, {4, 9}}, bounds(tier))
}

func TestTier_WithoutOverlaps(t *testing.T) {
	doc := NewDocument("d", "New York has 3 new cases")
	tokens := NewTier(spansOf(doc, [2]int{0, 3}, [2]int{4, 8}, [2]int{15, 18}))
	gpe := NewTier(spansOf(doc, [2]int{0, 8}))

	assert.Equal(t, [][2]int{{15, 18}}, bounds(tokens.WithoutOverlaps(gpe)))
}

func TestTier_WithNearbySpansFrom(t *testing.T) {
	doc := NewDocument("d", "3 new cases were suspected here")
	cands := NewTier(spansOf(doc, [2]int{0, 11}))
	mods := NewTier(spansOf(doc, [2]int{2, 5}, [2]int{17, 26}, [2]int{12, 16}))

	nearby := cands.WithNearbySpansFrom(mods, 1)
	require.Equal(t, 2, nearby.Len())
	assert.Equal(t, [][2]int{{0, 11}, {0, 16}}, bounds(nearby))
	for _, s := range nearby.Spans() {
		assert.Len(t, s.BaseSpans, 2)
	}
}

func TestTier_GroupSpansByContainingSpan(t *testing.T) {
	doc := NewDocument("d", "Jan 1 | 5 | Jan 2 | 8")
	cells := NewTier(spansOf(doc, [2]int{0, 5}, [2]int{8, 9}))
	numbers := NewTier(spansOf(doc, [2]int{4, 5}, [2]int{8, 9}, [2]int{16, 17}))

	groups := cells.GroupSpansByContainingSpan(numbers)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Contained, 1)
	assert.Equal(t, 4, groups[0].Contained[0].Start)
	assert.Len(t, groups[1].Contained, 1)
}

func TestTier_SpanBefore(t *testing.T) {
	doc := NewDocument("d", "aaaa bbbb cccc dddd")
	tier := NewTier(spansOf(doc, [2]int{0, 4}, [2]int{5, 9}, [2]int{15, 19}))

	s, ok := tier.SpanBefore(Span{Start: 10, End: 14})
	require.True(t, ok)
	assert.Equal(t, 5, s.Start)

	_, ok = tier.SpanBefore(Span{Start: 0, End: 1})
	assert.False(t, ok)
}

func TestTier_LabelAndWithLabel(t *testing.T) {
	doc := NewDocument("d", "suspected cases")
	labelled := NewTier(spansOf(doc, [2]int{0, 9})).LabelSpans("suspected")

	require.Equal(t, 1, labelled.Len())
	assert.Equal(t, "suspected", labelled.At(0).Label)
	assert.Equal(t, 1, labelled.WithLabel("suspected").Len())
	assert.Equal(t, 0, labelled.WithLabel("confirmed").Len())
}

func TestTier_SearchSpans_FullMatch(t *testing.T) {
	doc := NewDocument("d", "cases casework deaths Cases")
	tokens := NewTier(spansOf(doc, [2]int{0, 5}, [2]int{6, 14}, [2]int{15, 21}, [2]int{22, 27}))

	found, err := tokens.SearchSpans(doc, `(case|death)s?`)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 5}, {15, 21}}, bounds(found))

	_, err = tokens.SearchSpans(doc, `(`)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Optimal span set
// ---------------------------------------------------------------------------

func TestOptimalSpanSet_PrefersMoreLeaves(t *testing.T) {
	doc := NewDocument("d", "3 new cases reported")
	base := doc.Span(0, 11, Metadata{})
	mod := doc.Span(2, 5, Metadata{})
	group := NewSpanGroup([]Span{base, NewSpanGroup([]Span{mod}, "incremental", Metadata{})}, "", Metadata{})

	best := NewTier([]Span{base, group}).OptimalSpanSet(doc, PreferNumSpansAndNoLinebreaks)
	require.Equal(t, 1, best.Len())
	assert.Equal(t, 2, best.At(0).NumLeaves())
}

func TestOptimalSpanSet_MaximisesCardinality(t *testing.T) {
	doc := NewDocument("d", "0123456789")
	long := doc.Span(0, 10, Metadata{})
	left := doc.Span(0, 4, Metadata{})
	right := doc.Span(5, 9, Metadata{})

	best := NewTier([]Span{long, left, right}).OptimalSpanSet(doc, PreferNumSpansAndNoLinebreaks)
	assert.Equal(t, [][2]int{{0, 4}, {5, 9}}, bounds(best))

	byLength := NewTier([]Span{long, left, right}).OptimalSpanSet(doc, PreferTextLength)
	assert.Equal(t, [][2]int{{0, 10}}, bounds(byLength))
}

func TestOptimalSpanSet_AvoidsLinebreaks(t *testing.T) {
	doc := NewDocument("d", "five cases\nof cholera")
	straddling := doc.Span(0, 21, Metadata{})
	clean := doc.Span(0, 10, Metadata{})

	best := NewTier([]Span{straddling, clean}).OptimalSpanSet(doc, PreferNumSpansAndNoLinebreaks)
	assert.Equal(t, [][2]int{{0, 10}}, bounds(best))
}

func TestOptimalSpanSet_KeepsUncontestedLinebreakSpan(t *testing.T) {
	doc := NewDocument("d", "Three patients\nwere infected. Two died")
	wrapped := doc.Span(0, 28, Metadata{})
	other := doc.Span(30, 38, Metadata{})

	best := NewTier([]Span{wrapped, other}).OptimalSpanSet(doc, PreferNumSpansAndNoLinebreaks)
	assert.Equal(t, [][2]int{{0, 28}, {30, 38}}, bounds(best))
}

func TestOptimalSpanSet_LinebreakSpanWithMoreLeavesWins(t *testing.T) {
	doc := NewDocument("d", "5 new\ncases")
	base := doc.Span(0, 1, Metadata{})
	mod := doc.Span(2, 5, Metadata{})
	wrapped := NewSpanGroup([]Span{doc.Span(0, 11, Metadata{}), NewSpanGroup([]Span{mod}, "incremental", Metadata{})}, "", Metadata{})

	best := NewTier([]Span{base, wrapped}).OptimalSpanSet(doc, PreferNumSpansAndNoLinebreaks)
	require.Equal(t, 1, best.Len())
	assert.Equal(t, 2, best.At(0).NumLeaves())
}

func TestOptimalSpanSet_Empty(t *testing.T) {
	doc := NewDocument("d", "")
	assert.Equal(t, 0, NewTier(nil).OptimalSpanSet(doc, PreferNumSpans).Len())
}
