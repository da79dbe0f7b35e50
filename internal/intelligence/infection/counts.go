package infection

import (
	"strings"

	"github.com/turtacn/EpiExtract/internal/annotation"
	"github.com/turtacn/EpiExtract/internal/intelligence/numparse"
)

// Debug notes recorded on counts.
const (
	noteJoinedTokens    = "joined consecutive tokens"
	noteSingularNC      = "count_inferred_from_singular_nc"
	noteLax             = "LAX"
	noteLaxIdentified   = "lax count identification"
	noteFromNounChunk   = "attributes from noun chunk"
	noteFromAncestors   = "attributes from ancestors"
	noteFromDisjointSub = "attributes from disjoint subtree"
)

// determiners that never imply a single referent ("in any case")
var excludedDeterminers = map[string]bool{"any": true}

func isQuantity(t *annotation.Token) bool {
	return t.EntType == "CARDINAL" || t.EntType == "QUANTITY"
}

func isNumMod(t *annotation.Token) bool {
	return t.Dep == "nummod"
}

// adjacentRuns groups ascending indexes into runs of consecutive values:
// [1 4 5 6 8 9] -> [[1] [4 5 6] [8 9]].
func adjacentRuns(idx []int) [][]int {
	var runs [][]int
	for i, v := range idx {
		if i == 0 || v != idx[i-1]+1 {
			runs = append(runs, nil)
		}
		runs[len(runs)-1] = append(runs[len(runs)-1], v)
	}
	return runs
}

func matching(tokens []*annotation.Token, keep func(*annotation.Token) bool) []int {
	var idx []int
	for i, t := range tokens {
		if keep(t) {
			idx = append(idx, i)
		}
	}
	return idx
}

func joinText(tokens []*annotation.Token, idx []int, sep string) string {
	parts := make([]string, len(idx))
	for i, j := range idx {
		parts[i] = tokens[j].Text
	}
	return strings.Join(parts, sep)
}

// GenerateCounts finds the count expressed by tokens. It tries, in order, a
// strict match on numeric modifiers, a singular determiner implying one, and
// unless strictOnly a lax match on any quantity token. Ambiguous or
// unparseable quantities yield no count.
func GenerateCounts(tokens []*annotation.Token, strictOnly, debug bool) annotation.Metadata {
	if len(tokens) == 0 {
		return annotation.Metadata{}
	}
	var (
		md    = annotation.Metadata{HasAttributes: true}
		notes []string
	)

	strict := matching(tokens, func(t *annotation.Token) bool { return isQuantity(t) && isNumMod(t) })
	switch {
	case len(strict) == 1:
		if v, err := numparse.ParseCount(tokens[strict[0]].Text); err == nil {
			md.Count = annotation.ScalarCount(v)
		}
	case len(strict) > 1:
		if runs := adjacentRuns(strict); len(runs) == 1 {
			if v, err := numparse.ParseCount(joinText(tokens, runs[0], " ")); err == nil {
				md.Count = annotation.ScalarCount(v)
			}
			notes = append(notes, noteJoinedTokens)
		}
	}

	if md.Count == nil && tokens[0].Dep == "det" && !excludedDeterminers[tokens[0].Lower()] {
		plural := false
		for _, t := range tokens {
			if t.POS == "NOUN" && t.Lower() != t.Lemma {
				plural = true
				break
			}
		}
		if !plural {
			md.Count = annotation.ScalarCount(1)
			notes = append(notes, noteSingularNC)
		}
	}

	if md.Count == nil && !strictOnly {
		lax := matching(tokens, func(t *annotation.Token) bool { return isQuantity(t) || isNumMod(t) })
		var (
			text   string
			joined bool
		)
		switch {
		case len(lax) == 1:
			text = tokens[lax[0]].Text
		case len(lax) > 1:
			if runs := adjacentRuns(lax); len(runs) == 1 {
				text, joined = joinText(tokens, runs[0], ""), true
			}
		}
		if len(lax) > 0 && (len(lax) == 1 || joined) {
			v, err := numparse.ParseCount(text)
			if err != nil {
				md = annotation.Metadata{}
			} else {
				md.Count = annotation.ScalarCount(v)
				if joined {
					notes = append(notes, noteJoinedTokens, noteLaxIdentified)
				} else {
					notes = append(notes, noteLax)
				}
			}
		}
	}

	if debug {
		md.Debug = append(md.Debug, notes...)
	}
	return md
}
