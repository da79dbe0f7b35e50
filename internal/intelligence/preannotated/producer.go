// Package preannotated turns an epi.AnnotatedDocument into the input tiers
// the extractors read: the parse, named entities, geonames, dates, numbers,
// resolved keywords and tables produced upstream.
package preannotated

import (
	"github.com/turtacn/EpiExtract/internal/annotation"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// InputTiers are the tiers a Producer provides.
var InputTiers = []string{
	annotation.TierTokens,
	annotation.TierSentences,
	annotation.TierNounChunks,
	annotation.TierNamedEntities,
	annotation.TierGeonames,
	annotation.TierDates,
	annotation.TierRawNumbers,
	annotation.TierResolvedKeywords,
	annotation.TierStructuredData,
}

// TableTypeTable marks structured_data spans that are tables.
const TableTypeTable = "table"

// Producer provides the input tiers of one source document. The whole set is
// built on first use.
type Producer struct {
	src *epi.AnnotatedDocument
}

// NewProducer wraps src. src should have passed Validate.
func NewProducer(src *epi.AnnotatedDocument) *Producer {
	return &Producer{src: src}
}

// Name implements annotation.Producer.
func (p *Producer) Name() string { return "preannotated" }

// Provides implements annotation.Producer.
func (p *Producer) Provides() []string { return InputTiers }

// Produce implements annotation.Producer.
func (p *Producer) Produce(doc *annotation.Document) (map[string]*annotation.Tier, error) {
	src := p.src

	tokens := make([]annotation.Token, len(src.Tokens))
	for i, t := range src.Tokens {
		tokens[i] = annotation.Token{
			Start:   t.Start,
			End:     t.End,
			Text:    t.Text,
			Lemma:   t.Lemma,
			POS:     t.POS,
			Dep:     t.Dep,
			EntType: t.EntType,
			Head:    t.Head,
		}
	}
	parse, err := annotation.NewParse(tokens)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidToken, "invalid dependency parse")
	}

	out := map[string]*annotation.Tier{
		annotation.TierTokens: annotation.NewTier(annotation.TokenSpans(parse.Tokens(), doc.Ref(), 0)),
	}

	out[annotation.TierSentences] = offsetsTier(doc, src.Sentences)
	out[annotation.TierNounChunks] = offsetsTier(doc, src.NounChunks)

	var spans []annotation.Span
	for _, e := range src.Entities {
		s := doc.Span(e.Start, e.End, annotation.Metadata{})
		s.Label = e.Label
		spans = append(spans, s)
	}
	out[annotation.TierNamedEntities] = annotation.NewTier(spans)

	spans = nil
	for _, g := range src.Geonames {
		spans = append(spans, doc.Span(g.Start, g.End, annotation.Metadata{Geoname: annotation.Geoname(g.Geoname)}))
	}
	out[annotation.TierGeonames] = annotation.NewTier(spans)

	spans = nil
	for _, d := range src.Dates {
		if len(d.DatetimeRange) != 2 {
			continue
		}
		spans = append(spans, doc.Span(d.Start, d.End, annotation.Metadata{
			DateRange: &annotation.DateRange{Start: d.DatetimeRange[0], End: d.DatetimeRange[1]},
		}))
	}
	out[annotation.TierDates] = annotation.NewTier(spans)

	spans = nil
	for _, n := range src.Numbers {
		v := n.Number
		spans = append(spans, doc.Span(n.Start, n.End, annotation.Metadata{Number: &v}))
	}
	out[annotation.TierRawNumbers] = annotation.NewTier(spans)

	spans = nil
	for _, k := range src.ResolvedKeywords {
		res := make([]annotation.Resolution, len(k.Resolutions))
		for i, r := range k.Resolutions {
			res[i] = annotation.Resolution{
				Entity: annotation.EntityRef{ID: r.Entity.ID, Label: r.Entity.Label, Type: r.Entity.Type},
				Weight: r.Weight,
			}
		}
		spans = append(spans, doc.Span(k.Start, k.End, annotation.Metadata{Resolutions: res}))
	}
	out[annotation.TierResolvedKeywords] = annotation.NewTier(spans)

	spans = nil
	for _, t := range src.Tables {
		rows := make([][]annotation.Span, len(t.Rows))
		for r, row := range t.Rows {
			rows[r] = make([]annotation.Span, len(row))
			for c, cell := range row {
				rows[r][c] = doc.Span(cell.Start, cell.End, annotation.Metadata{})
			}
		}
		spans = append(spans, doc.Span(t.Start, t.End, annotation.Metadata{TableType: TableTypeTable, Rows: rows}))
	}
	out[annotation.TierStructuredData] = annotation.NewTier(spans)

	return out, nil
}

func offsetsTier(doc *annotation.Document, offs []epi.Offsets) *annotation.Tier {
	spans := make([]annotation.Span, len(offs))
	for i, o := range offs {
		spans[i] = doc.Span(o.Start, o.End, annotation.Metadata{})
	}
	return annotation.NewTier(spans)
}

// NewDocument validates src and returns a document with a Producer
// registered for the input tiers.
func NewDocument(src *epi.AnnotatedDocument) (*annotation.Document, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	doc := annotation.NewDocument(src.ID, src.Text)
	doc.Register(NewProducer(src))
	return doc, nil
}

var _ annotation.Producer = (*Producer)(nil)
