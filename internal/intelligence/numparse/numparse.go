// Package numparse turns count text found in surveillance reports into
// numeric values: digit groups ("1,204", "193 533"), decimals with scale
// words ("1.5 million") and spelled-out numbers ("twenty-one").
package numparse

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/EpiExtract/pkg/errors"
)

// ErrUnparseable is returned for text that does not denote a whole count.
var ErrUnparseable = errors.New(errors.ErrCodeValidation, "unparseable count text")

// ---------------------------------------------------------------------------
// Vocabulary
// ---------------------------------------------------------------------------

var unitWords = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15, "sixteen": 16,
	"seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "sixty": 60,
	"seventy": 70, "eighty": 80, "ninety": 90,
}

var scaleWords = map[string]float64{
	"thousand": 1e3, "million": 1e6, "billion": 1e9,
}

// abbreviated scales are only accepted after digits ("2.5 m", "40 k").
var abbrevScales = map[string]float64{
	"k": 1e3, "m": 1e6, "bn": 1e9,
}

var (
	// grouped digits: 1,234,567 or 193 533 (thin spaces are folded by NFKC)
	groupedDigits = regexp.MustCompile(`^\d{1,3}(?:[, ]\d{3})+$`)
	plainDigits   = regexp.MustCompile(`^\d+$`)
	decimalDigits = regexp.MustCompile(`^\d+\.\d+$`)
	wordSplitter  = regexp.MustCompile(`[\s\-]+`)
)

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// ParseCount parses text as a whole, non-negative count.
func ParseCount(text string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(norm.NFKC.String(text)))
	if s == "" {
		return 0, ErrUnparseable.WithDetail(strconv.Quote(text))
	}

	if v, ok := parseDigits(s); ok {
		return checkWhole(v, text)
	}

	words := wordSplitter.Split(s, -1)
	if len(words) >= 2 {
		// "1.5 million", "3 thousand"
		if v, ok := parseDigits(strings.Join(words[:len(words)-1], " ")); ok {
			if scale, ok := scaleFor(words[len(words)-1]); ok {
				return checkWhole(v*scale, text)
			}
		}
	}

	v, ok := parseWords(words)
	if !ok {
		return 0, ErrUnparseable.WithDetail(strconv.Quote(text))
	}
	return checkWhole(v, text)
}

func parseDigits(s string) (float64, bool) {
	switch {
	case plainDigits.MatchString(s):
		if len(s) > 1 && s[0] == '0' {
			return 0, false
		}
	case groupedDigits.MatchString(s):
		s = strings.NewReplacer(",", "", " ", "").Replace(s)
	case decimalDigits.MatchString(s):
		if len(s) > 1 && s[0] == '0' && s[1] != '.' {
			return 0, false
		}
	default:
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func scaleFor(word string) (float64, bool) {
	if word == "hundred" {
		return 100, true
	}
	if word == "dozen" {
		return 12, true
	}
	if v, ok := scaleWords[word]; ok {
		return v, true
	}
	v, ok := abbrevScales[word]
	return v, ok
}

// parseWords evaluates spelled-out numbers such as "one hundred and five",
// "a dozen" or "two thousand three hundred".
func parseWords(words []string) (float64, bool) {
	var (
		total   float64
		current float64
		seen    bool
	)
	for i, w := range words {
		switch {
		case w == "" || w == "and":
			continue
		case w == "a" || w == "an":
			if i+1 >= len(words) {
				return 0, false
			}
			if _, ok := scaleWords[words[i+1]]; !ok && words[i+1] != "hundred" && words[i+1] != "dozen" {
				return 0, false
			}
			current++
		case w == "hundred" || w == "dozen":
			m, _ := scaleFor(w)
			if current == 0 {
				current = 1
			}
			current *= m
			seen = true
		default:
			if v, ok := unitWords[w]; ok {
				current += v
				seen = true
				continue
			}
			scale, ok := scaleWords[w]
			if !ok {
				return 0, false
			}
			if current == 0 {
				current = 1
			}
			total += current * scale
			current = 0
			seen = true
		}
	}
	if !seen {
		return 0, false
	}
	return total + current, true
}

func checkWhole(v float64, text string) (float64, error) {
	if v < 0 || math.IsInf(v, 0) || math.IsNaN(v) || v != math.Trunc(v) {
		return 0, ErrUnparseable.WithDetail(strconv.Quote(text))
	}
	return v, nil
}
