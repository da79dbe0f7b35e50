package infection

import (
	"github.com/turtacn/EpiExtract/internal/annotation"
)

// chunk roots in these roles may take their event category from a verb
var subjectDeps = map[string]bool{"nsubj": true, "nsubjpass": true, "dobj": true}

// chunkTokens returns the parse tokens under nc.
func chunkTokens(tokens *annotation.Tier, nc annotation.Span) []*annotation.Token {
	return annotation.TokensOf(tokens.SpansContainedBy(nc))
}

// chunkRoot returns the token of chunk whose head lies outside it.
func chunkRoot(chunk []*annotation.Token) *annotation.Token {
	inside := make(map[int]bool, len(chunk))
	for _, t := range chunk {
		inside[t.Index] = true
	}
	for _, t := range chunk {
		if t.Head == t.Index || !inside[t.Head] {
			return t
		}
	}
	return chunk[len(chunk)-1]
}

func hasSubjectRole(chunk []*annotation.Token) bool {
	for _, t := range chunk {
		if subjectDeps[t.Dep] {
			return true
		}
	}
	return false
}

// disjointSubtree returns the subtree of root without the chunk tokens.
func disjointSubtree(root *annotation.Token, chunk []*annotation.Token) []*annotation.Token {
	inside := make(map[int]bool, len(chunk))
	for _, t := range chunk {
		inside[t.Index] = true
	}
	var out []*annotation.Token
	for _, t := range root.Subtree() {
		if !inside[t.Index] {
			out = append(out, t)
		}
	}
	return out
}

// builder holds the per-call settings of the span builders.
type builder struct {
	lexicon    Lexicon
	strictOnly bool
	debug      bool
}

func (b builder) describe(tokens []*annotation.Token) annotation.Metadata {
	return b.lexicon.GenerateAttributes(tokens).Merge(GenerateCounts(tokens, b.strictOnly, b.debug))
}

// candidate is a chunk being grown toward an infection span.
type candidate struct {
	tokens []*annotation.Token
	md     annotation.Metadata
	notes  []string
}

func (b builder) start(tokens *annotation.Tier, nc annotation.Span) (*candidate, bool) {
	toks := chunkTokens(tokens, nc)
	if len(toks) == 0 {
		return nil, false
	}
	return &candidate{tokens: toks, md: b.describe(toks)}, true
}

// tryAncestors merges the root's ancestors when they alone carry a trigger.
func (b builder) tryAncestors(c *candidate) {
	if !hasSubjectRole(c.tokens) {
		return
	}
	ancestors := chunkRoot(c.tokens).Ancestors()
	if len(ancestors) == 0 {
		return
	}
	amd := b.describe(ancestors)
	if HasTriggerLemmas(amd) {
		c.tokens = append(c.tokens, ancestors...)
		c.md = c.md.Merge(amd)
		c.notes = append(c.notes, noteFromAncestors)
	}
}

// trySubtree merges the tokens below the chunk root outside the chunk when
// they carry a trigger.
func (b builder) trySubtree(c *candidate, chunk []*annotation.Token) {
	sub := disjointSubtree(chunkRoot(chunk), chunk)
	if len(sub) == 0 {
		return
	}
	smd := b.describe(sub)
	if HasTriggerLemmas(smd) {
		c.tokens = append(c.tokens, sub...)
		c.md = c.md.Merge(smd)
		c.notes = append(c.notes, noteFromDisjointSub)
	}
}

func (b builder) finish(doc *annotation.Document, c *candidate) annotation.Span {
	start, end := c.tokens[0].Start, c.tokens[0].End
	for _, t := range c.tokens[1:] {
		if t.Start < start {
			start = t.Start
		}
		if t.End > end {
			end = t.End
		}
	}
	md := c.md
	if b.debug {
		md.Debug = append(append([]string(nil), md.Debug...), c.notes...)
	} else {
		md.Debug = nil
	}
	return doc.Span(start, end, md)
}

// ---------------------------------------------------------------------------
// Passes
// ---------------------------------------------------------------------------

func (b builder) infectionLemmaSpans(doc *annotation.Document) ([]annotation.Span, error) {
	tiers, err := doc.RequireTiers(annotation.TierNounChunks, annotation.TierTokens)
	if err != nil {
		return nil, err
	}
	chunks, tokens := tiers[0], tiers[1]

	var out []annotation.Span
	for _, nc := range chunks.Spans() {
		c, ok := b.start(tokens, nc)
		if !ok {
			continue
		}
		if HasTriggerLemmas(c.md) {
			c.notes = append(c.notes, noteFromNounChunk)
			b.tryAncestors(c)
		}
		if HasTriggerLemmas(c.md) && HasSingleCount(c.md) {
			out = append(out, b.finish(doc, c))
		}
	}
	return out, nil
}

func (b builder) personLemmaSpans(doc *annotation.Document) ([]annotation.Span, error) {
	tiers, err := doc.RequireTiers(annotation.TierNounChunks, annotation.TierTokens)
	if err != nil {
		return nil, err
	}
	chunks, tokens := tiers[0], tiers[1]

	var out []annotation.Span
	for _, nc := range chunks.Spans() {
		c, ok := b.start(tokens, nc)
		if !ok || !c.md.HasAttribute(CategoryPerson) {
			continue
		}
		chunk := append([]*annotation.Token(nil), c.tokens...)
		c.notes = append(c.notes, noteFromNounChunk)
		b.tryAncestors(c)
		if !HasTriggerLemmas(c.md) {
			b.trySubtree(c, chunk)
		}
		if HasTriggerLemmas(c.md) && HasSingleCount(c.md) {
			out = append(out, b.finish(doc, c))
		}
	}
	return out, nil
}

// FromNounChunksWithInfectionLemmas accepts noun chunks that name an event
// themselves ("3 cases", "two deaths"). Chunks in a subject or object role
// also absorb their ancestors when those carry an event category.
func FromNounChunksWithInfectionLemmas(doc *annotation.Document, opts Options) ([]annotation.Span, error) {
	return opts.builder().infectionLemmaSpans(doc)
}

// FromNounChunksWithPersonLemmas accepts chunks naming people ("three
// patients") whose event category comes from their ancestors or, failing
// that, from the rest of their subtree.
func FromNounChunksWithPersonLemmas(doc *annotation.Document, opts Options) ([]annotation.Span, error) {
	return opts.builder().personLemmaSpans(doc)
}
