package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{
			name:  "bare object",
			input: `{"status": "healthy"}`,
			want:  `{"status": "healthy"}`,
			ok:    true,
		},
		{
			name:  "object wrapped in prose",
			input: "Here is my analysis:\n{\"status\": \"attention_needed\"}\nLet me know if you need more.",
			want:  `{"status": "attention_needed"}`,
			ok:    true,
		},
		{
			name:  "nested objects",
			input: `result: {"issues": [{"fingerprint": "ab12", "severity": "critical"}], "actions": []}`,
			want:  `{"issues": [{"fingerprint": "ab12", "severity": "critical"}], "actions": []}`,
			ok:    true,
		},
		{
			name:  "multiline thinking before object",
			input: "Thinking...\nstep 1\nstep 2\n\n{\"status\":\n\"healthy\"}",
			want:  "{\"status\":\n\"healthy\"}",
			ok:    true,
		},
		{
			name:  "two objects span widest",
			input: `{"a": 1} and {"b": 2}`,
			want:  `{"a": 1} and {"b": 2}`,
			ok:    true,
		},
		{
			name:  "no object",
			input: "everything looks fine, nothing to report",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractFencedJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{
			name:  "fenced action list",
			input: "The disk pressure traces back to journald.\n\n```json\n[{\"kind\": \"cleanup\", \"risk\": \"low\"}]\n```\n",
			want:  `[{"kind": "cleanup", "risk": "low"}]`,
			ok:    true,
		},
		{
			name:  "stops at first closing fence",
			input: "```json\n{\"a\": 1}\n```\nmore text\n```json\n{\"b\": 2}\n```",
			want:  `{"a": 1}`,
			ok:    true,
		},
		{
			name:  "no fence",
			input: `analysis only, actions: {"kind": "cleanup"}`,
			ok:    false,
		},
		{
			name:  "unlabelled fence is not matched",
			input: "```\n{\"a\": 1}\n```",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFencedJSON(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
