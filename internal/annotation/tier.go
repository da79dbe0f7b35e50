package annotation

import (
	"regexp"
	"sort"
)

// Tier is an ordered collection of spans over one document, sorted by
// (Start, End). Tiers are immutable; every operation returns a new tier.
type Tier struct {
	spans []Span
}

// NewTier copies spans and sorts them by (Start, End).
func NewTier(spans []Span) *Tier {
	cp := append([]Span(nil), spans...)
	sort.SliceStable(cp, func(i, j int) bool { return spanLess(cp[i], cp[j]) })
	return &Tier{spans: cp}
}

// NewPresortedTier trusts the caller's order.
func NewPresortedTier(spans []Span) *Tier {
	return &Tier{spans: append([]Span(nil), spans...)}
}

// Len returns the number of spans.
func (t *Tier) Len() int {
	if t == nil {
		return 0
	}
	return len(t.spans)
}

// Spans returns the spans in order. The slice must not be modified.
func (t *Tier) Spans() []Span {
	if t == nil {
		return nil
	}
	return t.spans
}

// At returns the i-th span.
func (t *Tier) At(i int) Span {
	return t.spans[i]
}

// Add returns the sorted union of t and other.
func (t *Tier) Add(other *Tier) *Tier {
	all := make([]Span, 0, t.Len()+other.Len())
	all = append(all, t.Spans()...)
	all = append(all, other.Spans()...)
	return NewTier(all)
}

// Filter returns the spans for which keep reports true, preserving order.
func (t *Tier) Filter(keep func(Span) bool) *Tier {
	var out []Span
	for _, s := range t.Spans() {
		if keep(s) {
			out = append(out, s)
		}
	}
	return NewPresortedTier(out)
}

// WithoutOverlaps returns the spans of t that overlap no span of other.
func (t *Tier) WithoutOverlaps(other *Tier) *Tier {
	return t.Filter(func(s Span) bool {
		for _, o := range other.Spans() {
			if o.Start >= s.End && o.Start > s.Start {
				break
			}
			if s.Overlaps(o) {
				return false
			}
		}
		return true
	})
}

// WithNearbySpansFrom pairs every span of t with every span of other that lies
// within maxDist positions of it (overlapping spans included) and returns the
// pairs as unlabelled span groups.
func (t *Tier) WithNearbySpansFrom(other *Tier, maxDist int) *Tier {
	var out []Span
	for _, s := range t.Spans() {
		for _, o := range other.Spans() {
			if o.Start > s.End+maxDist {
				break
			}
			if s.Distance(o) <= maxDist {
				out = append(out, NewSpanGroup([]Span{s, o}, "", Metadata{}))
			}
		}
	}
	return NewTier(out)
}

// Grouping pairs a span with the spans of another tier it contains.
type Grouping struct {
	Span      Span
	Contained []Span
}

// GroupSpansByContainingSpan returns, for every span of t in order, the spans
// of other that lie fully inside it.
func (t *Tier) GroupSpansByContainingSpan(other *Tier) []Grouping {
	out := make([]Grouping, 0, t.Len())
	os := other.Spans()
	for _, s := range t.Spans() {
		g := Grouping{Span: s}
		first := sort.Search(len(os), func(i int) bool { return os[i].Start >= s.Start })
		for _, o := range os[first:] {
			if o.Start > s.End {
				break
			}
			if s.Contains(o) {
				g.Contained = append(g.Contained, o)
			}
		}
		out = append(out, g)
	}
	return out
}

// SpansContainedBy returns the spans of t lying fully inside target.
func (t *Tier) SpansContainedBy(target Span) []Span {
	var out []Span
	first := sort.Search(len(t.spans), func(i int) bool { return t.spans[i].Start >= target.Start })
	for _, s := range t.spans[first:] {
		if s.Start > target.End {
			break
		}
		if target.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}

// SpanBefore returns the last span starting before target.
func (t *Tier) SpanBefore(target Span) (Span, bool) {
	var (
		closest Span
		found   bool
	)
	for _, s := range t.Spans() {
		if s.Start >= target.Start {
			break
		}
		closest, found = s, true
	}
	return closest, found
}

// LabelSpans wraps every span in a single-member group carrying label.
func (t *Tier) LabelSpans(label string) *Tier {
	out := make([]Span, t.Len())
	for i, s := range t.Spans() {
		out[i] = NewSpanGroup([]Span{s}, label, Metadata{})
	}
	return NewPresortedTier(out)
}

// WithLabel returns the spans whose label equals label.
func (t *Tier) WithLabel(label string) *Tier {
	return t.Filter(func(s Span) bool { return s.Label == label })
}

// SearchSpans returns the spans of t whose full text matches pattern.
func (t *Tier) SearchSpans(doc *Document, pattern string) (*Tier, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, err
	}
	return t.Filter(func(s Span) bool { return re.MatchString(doc.SpanText(s)) }), nil
}

// MustSearchSpans is SearchSpans for patterns known to compile.
func (t *Tier) MustSearchSpans(doc *Document, pattern string) *Tier {
	out, err := t.SearchSpans(doc, pattern)
	if err != nil {
		panic(err)
	}
	return out
}

// Map returns a tier of fn applied to each span, re-sorted.
func (t *Tier) Map(fn func(Span) Span) *Tier {
	out := make([]Span, t.Len())
	for i, s := range t.Spans() {
		out[i] = fn(s)
	}
	return NewTier(out)
}
