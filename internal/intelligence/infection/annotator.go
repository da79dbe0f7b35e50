// Package infection finds counts of infections, deaths and hospitalizations
// in dependency-parsed text and publishes them as the "infections" tier.
package infection

import (
	"time"

	"github.com/turtacn/EpiExtract/internal/annotation"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
)

// Options tunes infection extraction.
type Options struct {
	// StrictOnly disables the lax count fallback.
	StrictOnly bool
	// Debug records derivation notes in Metadata.Debug.
	Debug bool
	// CompatibilityMode reports the infection category as "case".
	CompatibilityMode bool
	// Lexicon overrides the built-in lemma table.
	Lexicon Lexicon
}

func (o Options) builder() builder {
	lex := o.Lexicon
	if lex == nil {
		lex = defaultLexicon
	}
	return builder{lexicon: lex, strictOnly: o.StrictOnly, debug: o.Debug}
}

var compatibilityRemap = map[string]string{CategoryInfection: "case"}

// Annotator produces the infections tier.
type Annotator struct {
	opts   Options
	logger logging.Logger
}

// AnnotatorOption configures an Annotator.
type AnnotatorOption func(*Annotator)

// WithLogger sets the annotator logger.
func WithLogger(l logging.Logger) AnnotatorOption {
	return func(a *Annotator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnnotator creates an infection annotator.
func NewAnnotator(opts Options, options ...AnnotatorOption) *Annotator {
	a := &Annotator{opts: opts, logger: logging.NewNopLogger()}
	for _, o := range options {
		o(a)
	}
	return a
}

// Name implements annotation.Producer.
func (a *Annotator) Name() string { return "infection" }

// Provides implements annotation.Producer.
func (a *Annotator) Provides() []string { return []string{annotation.TierInfections} }

// Produce implements annotation.Producer.
func (a *Annotator) Produce(doc *annotation.Document) (map[string]*annotation.Tier, error) {
	start := time.Now()

	byEvent, err := FromNounChunksWithInfectionLemmas(doc, a.opts)
	if err != nil {
		return nil, err
	}
	byPerson, err := FromNounChunksWithPersonLemmas(doc, a.opts)
	if err != nil {
		return nil, err
	}
	spans := append(byEvent, byPerson...)

	tier, err := AddCountModifiers(doc, spans)
	if err != nil {
		return nil, err
	}
	if a.opts.CompatibilityMode {
		tier = tier.Map(func(s annotation.Span) annotation.Span {
			md := s.Metadata
			attrs := make([]string, len(md.Attributes))
			for i, attr := range md.Attributes {
				if r, ok := compatibilityRemap[attr]; ok {
					attr = r
				}
				attrs[i] = attr
			}
			md.Attributes = attrs
			return s.WithMetadata(md)
		})
	}

	a.logger.Debug("infection spans extracted",
		logging.String("document_id", doc.ID()),
		logging.Int("candidates", len(spans)),
		logging.Int("infections", tier.Len()),
		logging.Duration("duration", time.Since(start)),
	)
	return map[string]*annotation.Tier{annotation.TierInfections: tier}, nil
}

var _ annotation.Producer = (*Annotator)(nil)
