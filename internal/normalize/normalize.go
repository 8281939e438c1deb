// Package normalize converts numerals, dates, phone numbers and currency
// amounts into locale-correct spoken word forms ahead of synthesis.
//
// Normalization is deterministic and side-effect free: the same input
// always yields the same output and the same ordered audit trail of
// replacements. Text containing no recognizable pattern passes through
// unchanged.
package normalize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/scriptcast/voiceproof/internal/core"
)

// categoryPriority resolves overlapping matches: a date substring that
// also contains a phone-like digit run is read as a date. The ordering is
// a working default inferred from observed usage, kept in one place so a
// corpus-driven reordering stays a one-line change.
var categoryPriority = []core.MappingCategory{
	core.CategoryDate,
	core.CategoryPhone,
	core.CategoryCurrency,
	core.CategoryAge,
	core.CategoryCount,
}

// rule binds one compiled pattern to its category and reading function.
// The reading function receives the full match at index 0 followed by the
// capture groups.
type rule struct {
	category core.MappingCategory
	pattern  *regexp.Regexp
	replace  func(groups []string) string
}

// candidate is one potential replacement found during the scan.
type candidate struct {
	start       int
	end         int
	priority    int
	category    core.MappingCategory
	replacement string
}

// Normalizer implements core.Normalizer. Safe for concurrent use: all
// state is compiled patterns, read-only after construction.
type Normalizer struct {
	rulesByLanguage map[string][]rule
}

// New returns a Normalizer with the built-in Korean and English rule
// sets. Unknown languages fall back to the English conventions.
func New() *Normalizer {
	return &Normalizer{
		rulesByLanguage: map[string][]rule{
			"ko": koreanRules,
			"en": englishRules,
		},
	}
}

// Normalize rewrites text for the given language and returns the
// normalized text together with one mapping per recognized pattern, in
// input order. Byte-identical replacements are recorded too, keeping the
// audit trail complete.
func (n *Normalizer) Normalize(text, language string) (string, []core.NormalizationMapping) {
	if text == "" {
		return text, nil
	}

	rules := n.rulesForLanguage(language)
	accepted := resolveCandidates(collectCandidates(text, rules), len(text))

	if len(accepted) == 0 {
		return text, nil
	}

	var (
		builder  strings.Builder
		mappings = make([]core.NormalizationMapping, 0, len(accepted))
		cursor   int
	)

	for _, c := range accepted {
		builder.WriteString(text[cursor:c.start])
		builder.WriteString(c.replacement)

		mappings = append(mappings, core.NormalizationMapping{
			Original:    text[c.start:c.end],
			Replacement: c.replacement,
			Category:    c.category,
		})

		cursor = c.end
	}

	builder.WriteString(text[cursor:])

	return builder.String(), mappings
}

func (n *Normalizer) rulesForLanguage(language string) []rule {
	lang := strings.ToLower(language)
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		lang = lang[:idx]
	}

	if rules, ok := n.rulesByLanguage[lang]; ok {
		return rules
	}

	return englishRules
}

// collectCandidates runs every rule over the text and gathers all matches
// with their category priority.
func collectCandidates(text string, rules []rule) []candidate {
	var candidates []candidate

	for _, r := range rules {
		priority := priorityOf(r.category)

		for _, loc := range r.pattern.FindAllStringSubmatchIndex(text, -1) {
			groups := make([]string, len(loc)/2)

			for g := range groups {
				if loc[2*g] >= 0 {
					groups[g] = text[loc[2*g]:loc[2*g+1]]
				}
			}

			candidates = append(candidates, candidate{
				start:       loc[0],
				end:         loc[1],
				priority:    priority,
				category:    r.category,
				replacement: r.replace(groups),
			})
		}
	}

	return candidates
}

// resolveCandidates orders matches left to right, preferring the longer
// match and then the higher-priority category wherever spans overlap, and
// drops everything that conflicts with an accepted match.
func resolveCandidates(candidates []candidate, textLen int) []candidate {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.start != b.start {
			return a.start < b.start
		}

		if a.end != b.end {
			return a.end > b.end
		}

		return a.priority < b.priority
	})

	accepted := candidates[:0]
	claimedUpTo := 0

	for _, c := range candidates {
		if c.start < claimedUpTo || c.end > textLen {
			continue
		}

		accepted = append(accepted, c)
		claimedUpTo = c.end
	}

	return accepted
}

func priorityOf(category core.MappingCategory) int {
	for i, c := range categoryPriority {
		if c == category {
			return i
		}
	}

	return len(categoryPriority)
}
