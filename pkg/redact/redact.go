// Package redact scrubs secret-looking spans from text bound for LLM
// prompts, notifications, and persisted context entries. Journal lines
// and captured command output routinely carry credentials; nothing
// leaves the host for a model backend without passing through here.
package redact

import (
	"log/slog"
	"regexp"
)

// Pattern pairs a compiled regex with its replacement.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

type patternDef struct {
	name        string
	pattern     string
	replacement string
}

// Ordered: structural blocks first, provider-specific tokens next, keyed
// assignments after, broad sweeps last so the specific replacements win.
var builtinDefs = []patternDef{
	{
		name:        "certificate",
		pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
		replacement: `__MASKED_CERTIFICATE__`,
	},
	{
		name:        "ssh_key",
		pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
		replacement: `__MASKED_SSH_KEY__`,
	},
	{
		name:        "aws_access_key",
		pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
		replacement: `aws_access_key_id=__MASKED_AWS_KEY__`,
	},
	{
		name:        "aws_secret_key",
		pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
		replacement: `aws_secret_access_key=__MASKED_AWS_SECRET__`,
	},
	{
		name:        "github_token",
		pattern:     `gh[ps]_[A-Za-z0-9_]{36,255}`,
		replacement: `__MASKED_GITHUB_TOKEN__`,
	},
	{
		name:        "slack_token",
		pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
		replacement: `__MASKED_SLACK_TOKEN__`,
	},
	{
		name:        "api_key",
		pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
		replacement: `api_key=__MASKED_API_KEY__`,
	},
	{
		name:        "secret_key",
		pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		replacement: `secret_key=__MASKED_SECRET_KEY__`,
	},
	{
		name:        "private_key",
		pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		replacement: `private_key=__MASKED_PRIVATE_KEY__`,
	},
	{
		name:        "token",
		pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		replacement: `token=__MASKED_TOKEN__`,
	},
	{
		name:        "password",
		pattern:     `(?i)(?:password|passwd|pwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
		replacement: `password=__MASKED_PASSWORD__`,
	},
	{
		name:        "email",
		pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
		replacement: `__MASKED_EMAIL__`,
	},
}

// Redactor applies the builtin pattern set. Stateless aside from the
// compiled patterns; safe for concurrent use.
type Redactor struct {
	patterns []*Pattern
}

// NewRedactor compiles the builtin patterns eagerly. Invalid patterns
// are logged and skipped rather than failing startup.
func NewRedactor() *Redactor {
	r := &Redactor{patterns: make([]*Pattern, 0, len(builtinDefs))}
	for _, def := range builtinDefs {
		compiled, err := regexp.Compile(def.pattern)
		if err != nil {
			slog.Error("Failed to compile redaction pattern, skipping",
				"pattern", def.name, "error", err)
			continue
		}
		r.patterns = append(r.patterns, &Pattern{
			Name:        def.name,
			Regex:       compiled,
			Replacement: def.replacement,
		})
	}
	return r
}

// Scrub replaces every secret-looking span in text. Fail-open: text the
// patterns cannot improve passes through unchanged, never blocked.
func (r *Redactor) Scrub(text string) string {
	if text == "" {
		return text
	}
	for _, p := range r.patterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}
