// Package score measures textual agreement between the requested
// (normalized) script and the text recovered by round-tripping the
// synthesized audio through transcription.
package score

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Scorer implements core.Scorer using Levenshtein edit distance over
// runes. Jaro-Winkler over-rewards shared prefixes, which is the wrong
// bias when the question is whether the whole script round-tripped.
//
// Both inputs are lightly canonicalized before comparison so whitespace
// and terminal punctuation differences that do not change meaning do not
// depress the score. Pure function of its inputs; safe for concurrent use.
type Scorer struct{}

// New returns a ready Scorer.
func New() *Scorer {
	return &Scorer{}
}

// Score returns a similarity in [0,1]. Identical strings score 1.0; two
// empty strings are trivially identical; one empty side scores 0.
func (s *Scorer) Score(expected, actual string) float64 {
	expected = Canonicalize(expected)
	actual = Canonicalize(actual)

	if expected == actual {
		return 1.0
	}

	if expected == "" || actual == "" {
		return 0.0
	}

	distance := matchr.Levenshtein(expected, actual)

	longer := len([]rune(expected))
	if l := len([]rune(actual)); l > longer {
		longer = l
	}

	similarity := 1.0 - float64(distance)/float64(longer)
	if similarity < 0 {
		return 0.0
	}

	return similarity
}

// Canonicalize collapses runs of whitespace to single spaces, trims the
// ends, strips terminal sentence punctuation and case-folds. It is
// exported so tests and the verification loop agree on what "identical"
// means.
func Canonicalize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsPunct(r)
	})
	text = strings.TrimSpace(text)

	return strings.ToLower(text)
}
