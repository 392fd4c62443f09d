package registry

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// weightedRatio scores how well query matches candidate on a 0..100 scale.
// It blends whole-string edit distance with token-sorted and best-token
// ratios plus a containment bonus, so multi-word descriptions still surface
// on single-word queries. Inputs must already be lowercased.
func weightedRatio(query, candidate string) int {
	if query == "" || candidate == "" {
		return 0
	}
	if query == candidate {
		return 100
	}

	best := levenshteinRatio(query, candidate)

	if sorted := tokenSortRatio(query, candidate); sorted > best {
		best = sorted
	}

	// Substring containment counts as a near-match, discounted slightly so
	// exact hits still win.
	if len(query) >= 3 && strings.Contains(candidate, query) {
		if contained := 90; contained > best {
			best = contained
		}
	}

	// Best single token, discounted for ignoring the rest of the field.
	if token := bestTokenRatio(query, candidate); token > best {
		best = token
	}

	return best
}

func levenshteinRatio(a, b string) int {
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	distance := fuzzy.LevenshteinDistance(a, b)
	return (longest - distance) * 100 / longest
}

func tokenSortRatio(a, b string) int {
	return levenshteinRatio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func bestTokenRatio(query, candidate string) int {
	best := 0
	for _, token := range strings.Fields(candidate) {
		if ratio := levenshteinRatio(query, token); ratio > best {
			best = ratio
		}
	}
	// 10% discount: matching one token of many is weaker evidence than
	// matching the whole field.
	return best * 9 / 10
}
