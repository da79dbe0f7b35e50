package infection

import (
	"github.com/turtacn/EpiExtract/internal/annotation"
)

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// Semantic categories tagged on token sequences.
const (
	CategoryInfection       = "infection"
	CategoryDeath           = "death"
	CategoryHospitalization = "hospitalization"
	CategoryPerson          = "person"
)

// triggerCategories mark an event rather than a participant.
var triggerCategories = []string{CategoryInfection, CategoryDeath, CategoryHospitalization}

// categoryOrder fixes the order categories are appended in for one token.
var categoryOrder = []string{CategoryInfection, CategoryDeath, CategoryHospitalization, CategoryPerson}

// ---------------------------------------------------------------------------
// Lexicon
// ---------------------------------------------------------------------------

// Lexicon maps a coarse part-of-speech tag to the canonical lemmas of each
// category. A Lexicon is read-only once built.
type Lexicon map[string]map[string]map[string]bool

func lemmaSet(lemmas ...string) map[string]bool {
	out := make(map[string]bool, len(lemmas))
	for _, l := range lemmas {
		out[l] = true
	}
	return out
}

// DefaultLexicon returns the built-in lemma table.
func DefaultLexicon() Lexicon {
	return Lexicon{
		"NOUN": {
			// patient and victim are both an event and a participant
			CategoryInfection:       lemmaSet("case", "victim", "infection", "instance", "diagnosis", "patient"),
			CategoryDeath:           lemmaSet("death", "fatality"),
			CategoryHospitalization: lemmaSet("hospitalization"),
			// "people" is not lemmatized to "person" by the tagger
			CategoryPerson: lemmaSet("people", "person", "victim", "patient", "man", "woman",
				"male", "female", "employee", "child"),
		},
		"ADJ": {
			CategoryInfection:       lemmaSet("infected", "sickened"),
			CategoryDeath:           lemmaSet("dead", "deceased"),
			CategoryHospitalization: lemmaSet("hospitalized"),
		},
		"VERB": {
			// "stricken" is often tagged as its own lemma
			CategoryInfection:       lemmaSet("infect", "sicken", "stricken", "strike", "diagnose", "afflict"),
			CategoryDeath:           lemmaSet("die"),
			CategoryHospitalization: lemmaSet("hospitalize", "admit"),
		},
	}
}

var defaultLexicon = DefaultLexicon()

// Categories returns the categories lemma belongs to under pos, in fixed
// category order.
func (l Lexicon) Categories(pos, lemma string) []string {
	byCategory, ok := l[pos]
	if !ok {
		return nil
	}
	var out []string
	for _, c := range categoryOrder {
		if byCategory[c][lemma] {
			out = append(out, c)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

// GenerateAttributes tags tokens with the categories of their lemmas.
// Possessive nouns are skipped so "the patient's children" only yields the
// children. Duplicates are kept.
func (l Lexicon) GenerateAttributes(tokens []*annotation.Token) annotation.Metadata {
	attrs := []string{}
	for _, t := range tokens {
		if t.POS == "NOUN" && t.Dep == "poss" {
			continue
		}
		attrs = append(attrs, l.Categories(t.POS, t.Lemma)...)
	}
	return annotation.Metadata{Attributes: attrs, HasAttributes: true}
}

// GenerateAttributes applies the default lexicon.
func GenerateAttributes(tokens []*annotation.Token) annotation.Metadata {
	return defaultLexicon.GenerateAttributes(tokens)
}

// HasTriggerLemmas reports whether md carries an infection, death or
// hospitalization category.
func HasTriggerLemmas(md annotation.Metadata) bool {
	for _, c := range triggerCategories {
		if md.HasAttribute(c) {
			return true
		}
	}
	return false
}

// HasSingleCount reports whether md carries exactly one count value.
func HasSingleCount(md annotation.Metadata) bool {
	return md.Count.Single()
}
