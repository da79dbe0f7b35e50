package annotation

import (
	"sort"
	"strings"
)

// Preference selects how OptimalSpanSet scores candidate spans.
type Preference int

const (
	// PreferTextLength maximises covered text, then the number of leaves.
	PreferTextLength Preference = iota
	// PreferNumSpans maximises the number of leaf spans, then covered text.
	PreferNumSpans
	// PreferNumSpansAndNoLinebreaks maximises the number of leaf spans, then
	// minimises linebreak-straddling spans, then maximises covered text. A
	// span with a linebreak loses only to an overlapping rival with as many
	// leaves.
	PreferNumSpansAndNoLinebreaks
)

// score is compared lexicographically; set scores are component-wise sums.
type score [3]int

func (a score) add(b score) score {
	return score{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func (a score) greater(b score) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func spanScore(doc *Document, s Span, prefer Preference) score {
	switch prefer {
	case PreferNumSpans:
		return score{s.NumLeaves(), s.Len(), 0}
	case PreferNumSpansAndNoLinebreaks:
		if strings.Contains(doc.SpanText(s), "\n") {
			return score{s.NumLeaves(), -1, s.Len()}
		}
		return score{s.NumLeaves(), 0, s.Len()}
	default:
		return score{s.Len(), s.NumLeaves(), 0}
	}
}

// OptimalSpanSet returns the non-overlapping subset of t with the highest total
// score under prefer. Ties keep the earlier-ending choice. The result is sorted
// by (Start, End).
func (t *Tier) OptimalSpanSet(doc *Document, prefer Preference) *Tier {
	n := t.Len()
	if n == 0 {
		return NewPresortedTier(nil)
	}

	byEnd := append([]Span(nil), t.Spans()...)
	sort.SliceStable(byEnd, func(i, j int) bool {
		if byEnd[i].End != byEnd[j].End {
			return byEnd[i].End < byEnd[j].End
		}
		return byEnd[i].Start < byEnd[j].Start
	})

	// compat[j] is the number of leading spans (by end) that end at or before
	// byEnd[j] starts, i.e. the prefix that can precede it.
	compat := make([]int, n)
	for j, s := range byEnd {
		compat[j] = sort.Search(j, func(i int) bool { return byEnd[i].End > s.Start })
	}

	best := make([]score, n+1)
	take := make([]bool, n+1)
	for j := 1; j <= n; j++ {
		s := byEnd[j-1]
		with := best[compat[j-1]].add(spanScore(doc, s, prefer))
		if with.greater(best[j-1]) {
			best[j] = with
			take[j] = true
		} else {
			best[j] = best[j-1]
		}
	}

	var chosen []Span
	for j := n; j > 0; {
		if take[j] {
			chosen = append(chosen, byEnd[j-1])
			j = compat[j-1]
		} else {
			j--
		}
	}
	return NewTier(chosen)
}
