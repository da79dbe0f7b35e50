package annotation

import (
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Metadata slots
// ---------------------------------------------------------------------------

// DateRange is a half-open [Start, End) instant pair as produced by the date
// parser.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Geoname is the resolved place record carried by a geoname span.
type Geoname map[string]interface{}

// EntityRef identifies a resolved keyword entity (species, disease, ...).
type EntityRef struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// Resolution is one candidate resolution of a keyword span.
type Resolution struct {
	Entity EntityRef `json:"entity"`
	Weight float64   `json:"weight"`
}

// Count holds the numeric counts found for a span. More than one value means
// the count is ambiguous.
type Count struct {
	Values []float64
}

// Single reports whether exactly one value is present.
func (c *Count) Single() bool {
	return c != nil && len(c.Values) == 1
}

// Value returns the first value, or 0.
func (c *Count) Value() float64 {
	if c == nil || len(c.Values) == 0 {
		return 0
	}
	return c.Values[0]
}

// ScalarCount builds a single-valued Count.
func ScalarCount(v float64) *Count {
	return &Count{Values: []float64{v}}
}

// Incident is the record carried by spans of the structured_incidents tier.
type Incident struct {
	Type       string     `json:"type"`
	Value      float64    `json:"value"`
	Attributes []string   `json:"attributes"`
	Location   Geoname    `json:"location,omitempty"`
	DateRange  *DateRange `json:"dateRange,omitempty"`
	Species    *EntityRef `json:"species,omitempty"`
}

// Metadata is the typed record attached to a span. Each producer fills the
// slots it owns and leaves the rest zero.
type Metadata struct {
	// Attributes are semantic tags such as infection or person.
	Attributes []string
	// HasAttributes distinguishes "no attributes found" from "not analysed".
	HasAttributes bool
	Count         *Count

	Number      *float64
	DateRange   *DateRange
	Geoname     Geoname
	Resolutions []Resolution
	Species     *Resolution

	// Rows holds the cells of a structured_data table span.
	Rows      [][]Span
	TableType string

	Token    *Token
	Incident *Incident

	// Debug records how a span was derived.
	Debug []string
}

// IsZero reports whether no slot is set.
func (m Metadata) IsZero() bool {
	return len(m.Attributes) == 0 && !m.HasAttributes && m.Count == nil &&
		m.Number == nil && m.DateRange == nil && m.Geoname == nil &&
		len(m.Resolutions) == 0 && m.Species == nil && m.Rows == nil &&
		m.TableType == "" && m.Token == nil && m.Incident == nil && len(m.Debug) == 0
}

// HasAttribute reports whether attr is among the attributes.
func (m Metadata) HasAttribute(attr string) bool {
	for _, a := range m.Attributes {
		if a == attr {
			return true
		}
	}
	return false
}

// Merge combines m with other without overwriting: list slots are
// concatenated (m first), scalar slots keep m's value and take other's only
// where m is unset.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m
	out.Attributes = concatStrings(m.Attributes, other.Attributes)
	out.HasAttributes = m.HasAttributes || other.HasAttributes
	out.Debug = concatStrings(m.Debug, other.Debug)
	fillFrom(&out, other)
	return out
}

// Overlay combines m with other where other's set slots replace m's. List
// slots are still concatenated (m first).
func (m Metadata) Overlay(other Metadata) Metadata {
	out := other
	out.Attributes = concatStrings(m.Attributes, other.Attributes)
	out.HasAttributes = m.HasAttributes || other.HasAttributes
	out.Debug = concatStrings(m.Debug, other.Debug)
	fillFrom(&out, m)
	return out
}

func fillFrom(dst *Metadata, src Metadata) {
	if dst.Count == nil {
		dst.Count = src.Count
	}
	if dst.Number == nil {
		dst.Number = src.Number
	}
	if dst.DateRange == nil {
		dst.DateRange = src.DateRange
	}
	if dst.Geoname == nil {
		dst.Geoname = src.Geoname
	}
	if len(dst.Resolutions) == 0 {
		dst.Resolutions = src.Resolutions
	}
	if dst.Species == nil {
		dst.Species = src.Species
	}
	if dst.Rows == nil {
		dst.Rows = src.Rows
	}
	if dst.TableType == "" {
		dst.TableType = src.TableType
	}
	if dst.Token == nil {
		dst.Token = src.Token
	}
	if dst.Incident == nil {
		dst.Incident = src.Incident
	}
}

func concatStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// SortedAttributes returns a sorted copy of the attributes.
func (m Metadata) SortedAttributes() []string {
	out := append([]string(nil), m.Attributes...)
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Tree combination
// ---------------------------------------------------------------------------

// CombineMetadata merges the metadata of spans and all their descendants.
// Precedence follows a pre-order traversal: a span's own metadata wins over
// its bases, and earlier spans win over later ones. When two species
// resolutions meet, the higher weighted one is kept.
func CombineMetadata(spans []Span) Metadata {
	var result Metadata
	for _, s := range spans {
		child := CombineMetadata(s.BaseSpans)
		if !s.Metadata.IsZero() {
			child = preferSpecies(s.Metadata, child)
		}
		result = preferSpecies(result, child)
	}
	return result
}

func preferSpecies(sofar, child Metadata) Metadata {
	merged := sofar.Merge(child)
	if sofar.Species != nil && child.Species != nil && sofar.Species.Weight < child.Species.Weight {
		merged.Species = child.Species
	}
	return merged
}
