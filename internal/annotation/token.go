package annotation

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Parse tokens
// ---------------------------------------------------------------------------

// Token is one token of a dependency parse. Offsets are in document code
// points. Head is the index of the syntactic head; the root is its own head.
type Token struct {
	Index   int
	Start   int
	End     int
	Text    string
	Lemma   string
	POS     string
	Dep     string
	EntType string
	Head    int

	parse *Parse
}

// Lower returns the lowercased surface form.
func (t *Token) Lower() string {
	return strings.ToLower(t.Text)
}

// Ancestors returns the chain of heads from t's head up to the root.
func (t *Token) Ancestors() []*Token {
	if t == nil || t.parse == nil {
		return nil
	}
	return t.parse.Ancestors(t.Index)
}

// Subtree returns t and all its descendants in document order.
func (t *Token) Subtree() []*Token {
	if t == nil || t.parse == nil {
		return nil
	}
	return t.parse.Subtree(t.Index)
}

// Parse is an immutable dependency parse over a document.
type Parse struct {
	tokens   []*Token
	children [][]int
}

// NewParse validates tokens and links them into a parse. Token indexes are
// reassigned from their position; heads must reference a token in range and
// following heads from any token must reach a root.
func NewParse(tokens []Token) (*Parse, error) {
	p := &Parse{
		tokens:   make([]*Token, len(tokens)),
		children: make([][]int, len(tokens)),
	}
	for i := range tokens {
		tok := tokens[i]
		if tok.Head < 0 || tok.Head >= len(tokens) {
			return nil, fmt.Errorf("token %d: head %d out of range", i, tok.Head)
		}
		if tok.End < tok.Start {
			return nil, fmt.Errorf("token %d: end %d before start %d", i, tok.End, tok.Start)
		}
		tok.Index = i
		tok.parse = p
		p.tokens[i] = &tok
		if tok.Head != i {
			p.children[tok.Head] = append(p.children[tok.Head], i)
		}
	}
	for i := range p.tokens {
		if _, err := p.walkToRoot(i); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Parse) walkToRoot(i int) ([]*Token, error) {
	var chain []*Token
	cur := i
	for steps := 0; ; steps++ {
		if steps > len(p.tokens) {
			return nil, fmt.Errorf("token %d: head chain does not reach a root", i)
		}
		head := p.tokens[cur].Head
		if head == cur {
			return chain, nil
		}
		chain = append(chain, p.tokens[head])
		cur = head
	}
}

// Len returns the number of tokens.
func (p *Parse) Len() int {
	return len(p.tokens)
}

// Token returns the token at index i.
func (p *Parse) Token(i int) *Token {
	return p.tokens[i]
}

// Tokens returns all tokens in document order.
func (p *Parse) Tokens() []*Token {
	return p.tokens
}

// Ancestors returns the heads of token i from nearest to the root.
func (p *Parse) Ancestors(i int) []*Token {
	chain, _ := p.walkToRoot(i)
	return chain
}

// Subtree returns token i and its descendants ordered by index.
func (p *Parse) Subtree(i int) []*Token {
	var idx []int
	stack := []int{i}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		idx = append(idx, cur)
		stack = append(stack, p.children[cur]...)
	}
	sort.Ints(idx)
	out := make([]*Token, len(idx))
	for k, j := range idx {
		out[k] = p.tokens[j]
	}
	return out
}

// ChunkRoot returns the token of [start, end) whose head lies outside the
// range, i.e. the syntactic head of a noun chunk.
func (p *Parse) ChunkRoot(start, end int) *Token {
	var inside []*Token
	for _, t := range p.tokens {
		if t.Start >= start && t.End <= end {
			inside = append(inside, t)
		}
	}
	for _, t := range inside {
		head := p.tokens[t.Head]
		if t.Head == t.Index || head.Start < start || head.End > end {
			return t
		}
	}
	if len(inside) > 0 {
		return inside[len(inside)-1]
	}
	return nil
}

// ---------------------------------------------------------------------------
// Token spans
// ---------------------------------------------------------------------------

// TokenSpan projects tok into a span of doc shifted by offset.
func TokenSpan(tok *Token, doc DocRef, offset int) Span {
	return Span{
		Start:    tok.Start + offset,
		End:      tok.End + offset,
		Doc:      doc,
		Metadata: Metadata{Token: tok},
	}
}

// TokenSpans projects each token with TokenSpan.
func TokenSpans(tokens []*Token, doc DocRef, offset int) []Span {
	out := make([]Span, len(tokens))
	for i, t := range tokens {
		out[i] = TokenSpan(t, doc, offset)
	}
	return out
}

// TokensOf returns the parse tokens behind token spans, skipping spans that
// carry no token.
func TokensOf(spans []Span) []*Token {
	out := make([]*Token, 0, len(spans))
	for _, s := range spans {
		if s.Metadata.Token != nil {
			out = append(out, s.Metadata.Token)
		}
	}
	return out
}
