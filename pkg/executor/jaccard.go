package executor

import "strings"

// duplicateThreshold is the Jaccard similarity above which a new
// proposal is considered a restatement of one already pending.
const duplicateThreshold = 0.7

// stopWords carry no signal for comparing action descriptions.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "with": true,
}

// descriptionTokens lowercases, strips punctuation, and drops stop
// words, yielding the token set Jaccard similarity runs on.
func descriptionTokens(s string) map[string]bool {
	tokens := map[string]bool{}
	for _, field := range strings.Fields(strings.ToLower(s)) {
		token := strings.Trim(field, `.,:;!?"'()[]`)
		if len(token) < 2 || stopWords[token] {
			continue
		}
		tokens[token] = true
	}
	return tokens
}

// jaccard returns |a∩b| / |a∪b|. Two empty sets are identical.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// similarDescriptions reports whether two action descriptions say the
// same thing.
func similarDescriptions(a, b string) bool {
	return jaccard(descriptionTokens(a), descriptionTokens(b)) > duplicateThreshold
}
