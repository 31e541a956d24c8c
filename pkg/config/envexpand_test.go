package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution with {{.VAR}}",
			input: "token: {{.GOTIFY_TOKEN}}",
			env:   map[string]string{"GOTIFY_TOKEN": "secret123"},
			want:  "token: secret123",
		},
		{
			name:  "literal ${VAR} is NOT expanded (no collision)",
			input: "rebuild_switch_cmd: nixos-rebuild switch --flake ${FLAKE_DIR}",
			env:   map[string]string{"FLAKE_DIR": "/etc/nixos"},
			want:  "rebuild_switch_cmd: nixos-rebuild switch --flake ${FLAKE_DIR}",
		},
		{
			name:  "literal $ in regex survives",
			input: "pattern: ^segfault.*$",
			env:   map[string]string{},
			want:  "pattern: ^segfault.*$",
		},
		{
			name:  "multiple substitutions in one line",
			input: "url: {{.PROTO}}://{{.HOST}}:{{.PORT}}",
			env: map[string]string{
				"PROTO": "https",
				"HOST":  "gotify.internal",
				"PORT":  "443",
			},
			want: "url: https://gotify.internal:443",
		},
		{
			name:  "missing variable expands to empty",
			input: "token: {{.NOT_SET_ANYWHERE}}",
			env:   map[string]string{},
			want:  "token: ",
		},
		{
			name:  "malformed template passes through untouched",
			input: "cmd: echo {{.unclosed",
			env:   map[string]string{},
			want:  "cmd: echo {{.unclosed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(got))
		})
	}
}
