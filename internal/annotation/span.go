// Package annotation implements the span/tier model shared by every
// extractor: immutable offset spans with typed metadata, sorted tiers of spans
// with overlap-aware set operations, and documents that compute named tiers on
// demand through registered producers.
package annotation

import (
	"fmt"
	"sync/atomic"
)

// DocRef is a weak reference from a span to its document. It never keeps the
// document alive and is resolved by the Document that owns the span.
type DocRef uint64

var docRefSeq atomic.Uint64

func nextDocRef() DocRef {
	return DocRef(docRefSeq.Add(1))
}

// Span is a half-open [Start, End) range of document code points.
//
// A span built from BaseSpans is the convex hull of its bases. Spans are values
// and are never mutated after construction.
type Span struct {
	Start     int
	End       int
	Doc       DocRef
	Metadata  Metadata
	BaseSpans []Span
	Label     string
}

// NewSpan builds an atomic span. An end before start is clamped to start.
func NewSpan(start, end int, doc DocRef, md Metadata) Span {
	if end < start {
		end = start
	}
	return Span{Start: start, End: end, Doc: doc, Metadata: md}
}

// NewSpanGroup builds a span covering bases. The group inherits the document of
// its first base.
func NewSpanGroup(bases []Span, label string, md Metadata) Span {
	if len(bases) == 0 {
		return Span{Label: label, Metadata: md}
	}
	g := Span{
		Start:     bases[0].Start,
		End:       bases[0].End,
		Doc:       bases[0].Doc,
		Metadata:  md,
		BaseSpans: append([]Span(nil), bases...),
		Label:     label,
	}
	for _, b := range bases[1:] {
		if b.Start < g.Start {
			g.Start = b.Start
		}
		if b.End > g.End {
			g.End = b.End
		}
	}
	return g
}

// Len returns End - Start.
func (s Span) Len() int {
	return s.End - s.Start
}

// IsGroup reports whether s was built from base spans.
func (s Span) IsGroup() bool {
	return len(s.BaseSpans) > 0
}

// Overlaps reports whether s and o share at least one position.
func (s Span) Overlaps(o Span) bool {
	return (s.Start <= o.Start && o.Start < s.End) || (o.Start <= s.Start && s.Start < o.End)
}

// Contains reports whether o lies fully inside s.
func (s Span) Contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// Distance returns the number of positions between s and o, 0 when they touch
// or overlap.
func (s Span) Distance(o Span) int {
	gap := o.Start - s.End
	if s.Start > o.Start {
		gap = s.Start - o.End
	}
	if gap < 0 {
		return 0
	}
	return gap
}

// NumLeaves counts the atomic spans under s (1 for an atomic span).
func (s Span) NumLeaves() int {
	if len(s.BaseSpans) == 0 {
		return 1
	}
	n := 0
	for _, b := range s.BaseSpans {
		n += b.NumLeaves()
	}
	return n
}

// WithMetadata returns a copy of s carrying md.
func (s Span) WithMetadata(md Metadata) Span {
	s.Metadata = md
	return s
}

func (s Span) String() string {
	if s.Label != "" {
		return fmt.Sprintf("Span(%d, %d, %q)", s.Start, s.End, s.Label)
	}
	return fmt.Sprintf("Span(%d, %d)", s.Start, s.End)
}

func spanLess(a, b Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}
