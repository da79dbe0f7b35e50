package annotation

import (
	"fmt"
	"sort"

	"github.com/turtacn/EpiExtract/pkg/errors"
)

// Tier names shared between producers and extractors.
const (
	TierTokens              = "spacy.tokens"
	TierSentences           = "spacy.sentences"
	TierNounChunks          = "spacy.noun_chunks"
	TierNamedEntities       = "spacy.nes"
	TierGeonames            = "geonames"
	TierDates               = "dates"
	TierRawNumbers          = "raw_numbers"
	TierResolvedKeywords    = "resolved_keywords"
	TierStructuredData      = "structured_data"
	TierInfections          = "infections"
	TierStructuredIncidents = "structured_incidents"
)

// Producer computes one or more named tiers for a document. A producer may
// require other tiers from the document while it runs.
type Producer interface {
	Name() string
	Provides() []string
	Produce(doc *Document) (map[string]*Tier, error)
}

// Document owns the text and the lazily populated tier map of one input.
// It is not safe for concurrent use; process one document per goroutine.
type Document struct {
	ref   DocRef
	id    string
	text  string
	runes []rune

	tiers     map[string]*Tier
	producers map[string]Producer
	running   map[string]bool
}

// NewDocument creates a document over text. id is informational.
func NewDocument(id, text string) *Document {
	return &Document{
		ref:       nextDocRef(),
		id:        id,
		text:      text,
		runes:     []rune(text),
		tiers:     make(map[string]*Tier),
		producers: make(map[string]Producer),
		running:   make(map[string]bool),
	}
}

// Ref returns the weak reference spans of this document carry.
func (d *Document) Ref() DocRef { return d.ref }

// ID returns the caller-supplied identifier.
func (d *Document) ID() string { return d.id }

// Text returns the full document text.
func (d *Document) Text() string { return d.text }

// Len returns the text length in code points.
func (d *Document) Len() int { return len(d.runes) }

// Span builds an atomic span of this document.
func (d *Document) Span(start, end int, md Metadata) Span {
	return NewSpan(start, end, d.ref, md)
}

// SpanText returns the text covered by s, clamped to the document bounds.
func (d *Document) SpanText(s Span) string {
	start, end := s.Start, s.End
	if start < 0 {
		start = 0
	}
	if end > len(d.runes) {
		end = len(d.runes)
	}
	if start >= end {
		return ""
	}
	return string(d.runes[start:end])
}

// Register makes p the producer for every tier it provides. Later
// registrations replace earlier ones for the same tier name.
func (d *Document) Register(p Producer) {
	for _, name := range p.Provides() {
		d.producers[name] = p
	}
}

// HasTier reports whether name has already been computed.
func (d *Document) HasTier(name string) bool {
	_, ok := d.tiers[name]
	return ok
}

// Tier returns a computed tier without triggering producers.
func (d *Document) Tier(name string) (*Tier, bool) {
	t, ok := d.tiers[name]
	return t, ok
}

// TierNames lists the computed tiers in sorted order.
func (d *Document) TierNames() []string {
	names := make([]string, 0, len(d.tiers))
	for n := range d.tiers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetTier stores t under name. Every span must belong to this document.
func (d *Document) SetTier(name string, t *Tier) error {
	for _, s := range t.Spans() {
		if s.Doc != d.ref {
			return errors.New(errors.ErrCodeDocumentMismatch, "span belongs to another document").
				WithDetail(fmt.Sprintf("tier %s, %s", name, s))
		}
	}
	d.tiers[name] = t
	return nil
}

// RequireTier returns tier name, running its registered producer once if the
// tier has not been computed yet.
func (d *Document) RequireTier(name string) (*Tier, error) {
	if t, ok := d.tiers[name]; ok {
		return t, nil
	}
	p, ok := d.producers[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeTierNotFound, "no producer registered for tier").WithDetail(name)
	}
	if err := d.AddTiers(p); err != nil {
		return nil, err
	}
	t, ok := d.tiers[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeProducerFailed, "producer did not return the tier it provides").
			WithDetail(fmt.Sprintf("%s -> %s", p.Name(), name))
	}
	return t, nil
}

// RequireTiers is RequireTier for several names, returned in order.
func (d *Document) RequireTiers(names ...string) ([]*Tier, error) {
	out := make([]*Tier, len(names))
	for i, n := range names {
		t, err := d.RequireTier(n)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// AddTiers runs p and stores every tier it returns, replacing tiers of the
// same name.
func (d *Document) AddTiers(p Producer) error {
	name := p.Name()
	if d.running[name] {
		return errors.New(errors.ErrCodeProducerCycle, "producer requires its own output").WithDetail(name)
	}
	d.running[name] = true
	defer delete(d.running, name)

	tiers, err := p.Produce(d)
	if err != nil {
		code := errors.GetCode(err)
		if code == errors.CodeUnknown {
			code = errors.ErrCodeProducerFailed
		}
		return errors.Wrap(err, code, "producer "+name+" failed")
	}
	for tierName, t := range tiers {
		if err := d.SetTier(tierName, t); err != nil {
			return err
		}
	}
	return nil
}
