// Package epi defines the wire types of EpiExtract: the pre-annotated input
// document produced by upstream NLP parsers, and the extraction result
// returned by every transport. No extraction logic lives here.
//
// All offsets are Unicode code point offsets into Text.
package epi

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/turtacn/EpiExtract/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Input document
// ─────────────────────────────────────────────────────────────────────────────

// Offsets is a half-open [Start, End) code point range.
type Offsets struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Token is one token of the upstream dependency parse. Head is the index of
// the syntactic head in Tokens; the root token is its own head.
type Token struct {
	Start   int    `json:"start" yaml:"start"`
	End     int    `json:"end" yaml:"end"`
	Text    string `json:"text" yaml:"text"`
	Lemma   string `json:"lemma" yaml:"lemma"`
	POS     string `json:"pos" yaml:"pos"`
	Dep     string `json:"dep" yaml:"dep"`
	EntType string `json:"ent_type,omitempty" yaml:"ent_type,omitempty"`
	Head    int    `json:"head" yaml:"head"`
}

// Entity is a named entity with its label (GPE, DATE, CARDINAL, ...).
type Entity struct {
	Start int    `json:"start" yaml:"start"`
	End   int    `json:"end" yaml:"end"`
	Label string `json:"label" yaml:"label"`
}

// GeonameSpan is a resolved location mention.
type GeonameSpan struct {
	Start   int                    `json:"start" yaml:"start"`
	End     int                    `json:"end" yaml:"end"`
	Geoname map[string]interface{} `json:"geoname" yaml:"geoname"`
}

// DateSpan is a resolved date mention. DatetimeRange holds exactly two
// instants, start and end.
type DateSpan struct {
	Start         int         `json:"start" yaml:"start"`
	End           int         `json:"end" yaml:"end"`
	DatetimeRange []time.Time `json:"datetime_range" yaml:"datetime_range"`
}

// NumberSpan is a numeric mention with its parsed value.
type NumberSpan struct {
	Start  int     `json:"start" yaml:"start"`
	End    int     `json:"end" yaml:"end"`
	Number float64 `json:"number" yaml:"number"`
}

// KeywordEntity identifies a resolved ontology entity.
type KeywordEntity struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Type  string `json:"type" yaml:"type"`
}

// KeywordResolution is one weighted candidate resolution.
type KeywordResolution struct {
	Entity KeywordEntity `json:"entity" yaml:"entity"`
	Weight float64       `json:"weight" yaml:"weight"`
}

// KeywordSpan is a keyword mention with its candidate resolutions, best
// first.
type KeywordSpan struct {
	Start       int                 `json:"start" yaml:"start"`
	End         int                 `json:"end" yaml:"end"`
	Resolutions []KeywordResolution `json:"resolutions" yaml:"resolutions"`
}

// TableSpan is a table found in the text. Rows holds the offsets of every
// cell, row by row.
type TableSpan struct {
	Start int         `json:"start" yaml:"start"`
	End   int         `json:"end" yaml:"end"`
	Rows  [][]Offsets `json:"rows" yaml:"rows"`
}

// AnnotatedDocument is a text together with the annotations of the upstream
// parsers.
type AnnotatedDocument struct {
	ID          string     `json:"id,omitempty" yaml:"id,omitempty"`
	Text        string     `json:"text" yaml:"text"`
	PublishedAt *time.Time `json:"published_at,omitempty" yaml:"published_at,omitempty"`

	Tokens           []Token       `json:"tokens" yaml:"tokens"`
	Sentences        []Offsets     `json:"sentences" yaml:"sentences"`
	NounChunks       []Offsets     `json:"noun_chunks" yaml:"noun_chunks"`
	Entities         []Entity      `json:"entities" yaml:"entities"`
	Geonames         []GeonameSpan `json:"geonames" yaml:"geonames"`
	Dates            []DateSpan    `json:"dates" yaml:"dates"`
	Numbers          []NumberSpan  `json:"numbers" yaml:"numbers"`
	ResolvedKeywords []KeywordSpan `json:"resolved_keywords" yaml:"resolved_keywords"`
	Tables           []TableSpan   `json:"tables" yaml:"tables"`
}

// Validate checks the document invariants: non-empty text, every range
// inside the text, token heads inside the token list and date ranges of two
// instants. Head cycles are reported when the parse is linked.
func (d *AnnotatedDocument) Validate() error {
	if d == nil || d.Text == "" {
		return errors.New(errors.ErrCodeDocumentEmpty, "document text is empty")
	}
	n := utf8.RuneCountInString(d.Text)

	check := func(kind string, i, start, end int) error {
		if start < 0 || end < start || end > n {
			return errors.Newf(errors.ErrCodeInvalidSpan,
				"%s[%d] has invalid offsets [%d, %d) for text of length %d", kind, i, start, end, n)
		}
		return nil
	}

	for i, t := range d.Tokens {
		if err := check("tokens", i, t.Start, t.End); err != nil {
			return err
		}
		if t.Head < 0 || t.Head >= len(d.Tokens) {
			return errors.Newf(errors.ErrCodeInvalidToken, "tokens[%d] head %d out of range", i, t.Head)
		}
	}
	for i, s := range d.Sentences {
		if err := check("sentences", i, s.Start, s.End); err != nil {
			return err
		}
	}
	for i, c := range d.NounChunks {
		if err := check("noun_chunks", i, c.Start, c.End); err != nil {
			return err
		}
	}
	for i, e := range d.Entities {
		if err := check("entities", i, e.Start, e.End); err != nil {
			return err
		}
	}
	for i, g := range d.Geonames {
		if err := check("geonames", i, g.Start, g.End); err != nil {
			return err
		}
	}
	for i, dt := range d.Dates {
		if err := check("dates", i, dt.Start, dt.End); err != nil {
			return err
		}
		if len(dt.DatetimeRange) != 2 {
			return errors.Newf(errors.ErrCodeDocumentMalformed,
				"dates[%d] datetime_range must hold 2 instants, got %d", i, len(dt.DatetimeRange))
		}
	}
	for i, num := range d.Numbers {
		if err := check("numbers", i, num.Start, num.End); err != nil {
			return err
		}
	}
	for i, k := range d.ResolvedKeywords {
		if err := check("resolved_keywords", i, k.Start, k.End); err != nil {
			return err
		}
	}
	for i, t := range d.Tables {
		if err := check("tables", i, t.Start, t.End); err != nil {
			return err
		}
		for r, row := range t.Rows {
			for c, cell := range row {
				if err := check(fmt.Sprintf("tables[%d].rows[%d]", i, r), c, cell.Start, cell.End); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Extraction result
// ─────────────────────────────────────────────────────────────────────────────

// Options selects extraction behaviour.
type Options struct {
	// StrictOnly disables the lax count fallback.
	StrictOnly bool `json:"strict_only" yaml:"strict_only" mapstructure:"strict_only"`
	// Debug records span provenance notes.
	Debug bool `json:"debug" yaml:"debug" mapstructure:"debug"`
	// CompatibilityMode reports the infection attribute as case.
	CompatibilityMode bool `json:"compatibility_mode" yaml:"compatibility_mode" mapstructure:"compatibility_mode"`
}

// DateRange is the time interval of an incident.
type DateRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// EntityRef identifies a resolved entity such as a species.
type EntityRef struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// Infection is one span of the infections tier.
type Infection struct {
	Start      int      `json:"start" yaml:"start"`
	End        int      `json:"end" yaml:"end"`
	Text       string   `json:"text" yaml:"text"`
	Attributes []string `json:"attributes" yaml:"attributes"`
	// Count is set when exactly one count was found.
	Count *float64 `json:"count,omitempty" yaml:"count,omitempty"`
	Debug []string `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// Incident is one count read from a structured table.
type Incident struct {
	Start      int                    `json:"start" yaml:"start"`
	End        int                    `json:"end" yaml:"end"`
	Text       string                 `json:"text" yaml:"text"`
	Type       string                 `json:"type" yaml:"type"`
	Value      float64                `json:"value" yaml:"value"`
	Attributes []string               `json:"attributes" yaml:"attributes"`
	Location   map[string]interface{} `json:"location,omitempty" yaml:"location,omitempty"`
	DateRange  *DateRange             `json:"date_range,omitempty" yaml:"date_range,omitempty"`
	Species    *EntityRef             `json:"species,omitempty" yaml:"species,omitempty"`
}

// ExtractionResult is everything extracted from one document.
type ExtractionResult struct {
	DocumentID  string      `json:"document_id" yaml:"document_id"`
	Options     Options     `json:"options" yaml:"options"`
	Infections  []Infection `json:"infections" yaml:"infections"`
	Incidents   []Incident  `json:"incidents" yaml:"incidents"`
	ExtractedAt time.Time   `json:"extracted_at" yaml:"extracted_at"`
	DurationMS  int64       `json:"duration_ms" yaml:"duration_ms"`
}

// ExtractionSummary is the listing view of a stored result.
type ExtractionSummary struct {
	DocumentID     string    `json:"document_id"`
	InfectionCount int       `json:"infection_count"`
	IncidentCount  int       `json:"incident_count"`
	ExtractedAt    time.Time `json:"extracted_at"`
}

// Summary returns the listing view of r.
func (r *ExtractionResult) Summary() ExtractionSummary {
	return ExtractionSummary{
		DocumentID:     r.DocumentID,
		InfectionCount: len(r.Infections),
		IncidentCount:  len(r.Incidents),
		ExtractedAt:    r.ExtractedAt,
	}
}
