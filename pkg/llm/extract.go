package llm

import (
	"regexp"
	"strings"
)

// Reasoner replies wrap their JSON in prose or chain-of-thought text.
// Object extraction is greedy: the span runs from the first "{" to the
// last "}", which covers nested objects without a real parser.
var (
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")
)

// ExtractJSONObject returns the first JSON object span in s.
func ExtractJSONObject(s string) (string, bool) {
	m := jsonObjectRe.FindString(s)
	if m == "" {
		return "", false
	}
	return m, true
}

// ExtractFencedJSON returns the trimmed contents of the first ```json
// fenced block in s. The contents may be any JSON value, typically an
// action list.
func ExtractFencedJSON(s string) (string, bool) {
	m := fencedJSONRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
